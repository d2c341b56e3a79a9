// Package sqlite3 defines the small, closed set of result codes the
// sandboxed SQL engine expects a VFS to return, and the engine-facing
// open/access/lock flag types the VFS methods accept.
//
// The engine itself — the compiled bytecode module, its statement and
// connection wrappers, and the FFI trampoline that calls into Go — is an
// external collaborator and is not implemented here.
package sqlite3

import "fmt"

// ErrorCode is a SQLite result/error code, as returned by a VFS method.
// Zero is success (OK).
type ErrorCode int

const (
	OK ErrorCode = 0

	ERROR    ErrorCode = 1
	IOERR    ErrorCode = 10
	NOMEM    ErrorCode = 7
	BUSY     ErrorCode = 5
	CANTOPEN ErrorCode = 14
	MISUSE   ErrorCode = 21
	NOTFOUND ErrorCode = 12

	BUSY_RECOVERY ErrorCode = BUSY | (1 << 8)

	IOERR_READ        ErrorCode = IOERR | (1 << 8)
	IOERR_SHORT_READ  ErrorCode = IOERR | (2 << 8)
	IOERR_WRITE       ErrorCode = IOERR | (3 << 8)
	IOERR_FSYNC       ErrorCode = IOERR | (4 << 8)
	IOERR_TRUNCATE    ErrorCode = IOERR | (6 << 8)
	IOERR_FSTAT       ErrorCode = IOERR | (7 << 8)
	IOERR_DELETE      ErrorCode = IOERR | (10 << 8)
	IOERR_ACCESS      ErrorCode = IOERR | (13 << 8)
	IOERR_LOCK        ErrorCode = IOERR | (15 << 8)
	IOERR_CLOSE       ErrorCode = IOERR | (16 << 8)
	IOERR_DELETE_NOENT ErrorCode = IOERR | (23 << 8)
)

// Error pairs a result code with a human-readable message, the message
// a VFS stashes for later retrieval by xGetLastError.
type Error struct {
	Code ErrorCode
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("sqlite3: %v", e.Code)
	}
	return fmt.Sprintf("sqlite3: %v: %s", e.Code, e.Msg)
}

// AsErrorCode extracts the ErrorCode carried by err, defaulting to
// fallback for any other error and OK for nil. Every VFS method entry point
// funnels its return through this so no bare Go error ever crosses back
// into the engine.
func AsErrorCode(err error, fallback ErrorCode) ErrorCode {
	if err == nil {
		return OK
	}
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return fallback
}

func (c ErrorCode) String() string {
	switch c {
	case OK:
		return "OK"
	case ERROR:
		return "ERROR"
	case IOERR:
		return "IOERR"
	case NOMEM:
		return "NOMEM"
	case BUSY:
		return "BUSY"
	case CANTOPEN:
		return "CANTOPEN"
	case MISUSE:
		return "MISUSE"
	case NOTFOUND:
		return "NOTFOUND"
	case BUSY_RECOVERY:
		return "BUSY_RECOVERY"
	case IOERR_READ:
		return "IOERR_READ"
	case IOERR_SHORT_READ:
		return "IOERR_SHORT_READ"
	case IOERR_WRITE:
		return "IOERR_WRITE"
	case IOERR_FSYNC:
		return "IOERR_FSYNC"
	case IOERR_TRUNCATE:
		return "IOERR_TRUNCATE"
	case IOERR_FSTAT:
		return "IOERR_FSTAT"
	case IOERR_DELETE:
		return "IOERR_DELETE"
	case IOERR_ACCESS:
		return "IOERR_ACCESS"
	case IOERR_LOCK:
		return "IOERR_LOCK"
	case IOERR_CLOSE:
		return "IOERR_CLOSE"
	case IOERR_DELETE_NOENT:
		return "IOERR_DELETE_NOENT"
	default:
		return fmt.Sprintf("ErrorCode(%d)", int(c))
	}
}
