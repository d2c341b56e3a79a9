// Package vfs defines the synchronous file-system contract the sandboxed
// SQL engine calls into, and a registry of named VFS implementations.
//
// A [VFS] is what an engine-level "vfs" struct is bound to; a [File] is
// what an engine-level "file" struct is bound to once xOpen succeeds.
// Every method here returns 0 (success) or an engine error code, never a
// bare Go error across the boundary — see package sqlite3.
package vfs

import "sync"

// OpenFlag mirrors the engine's SQLITE_OPEN_* bitmask.
type OpenFlag uint32

const (
	OPEN_READONLY OpenFlag = 0x00000001
	OPEN_READWRITE OpenFlag = 0x00000002
	OPEN_CREATE    OpenFlag = 0x00000004

	OPEN_DELETEONCLOSE OpenFlag = 0x00000008
	OPEN_EXCLUSIVE     OpenFlag = 0x00000010
	OPEN_MAIN_DB       OpenFlag = 0x00000100
	OPEN_TEMP_DB       OpenFlag = 0x00000200
	OPEN_TRANSIENT_DB  OpenFlag = 0x00000400
	OPEN_MAIN_JOURNAL  OpenFlag = 0x00000800
	OPEN_TEMP_JOURNAL  OpenFlag = 0x00001000
	OPEN_SUBJOURNAL    OpenFlag = 0x00002000
	OPEN_SUPER_JOURNAL OpenFlag = 0x00004000
	OPEN_MEMORY        OpenFlag = 0x00000080
)

// Persistent is the set of OpenFlag bits the pool header codec persists
// and uses to decide whether a slot is meaningfully associated; see
// spec §4.2. A slot whose stored flags have none of these bits set, or
// that carries OPEN_DELETEONCLOSE, is never resurrected across restarts.
const Persistent = OPEN_MAIN_DB | OPEN_MAIN_JOURNAL | OPEN_SUPER_JOURNAL |
	OPEN_SUBJOURNAL | OPEN_TEMP_DB | OPEN_TEMP_JOURNAL | OPEN_TRANSIENT_DB

// AccessFlag mirrors the engine's xAccess flag argument.
type AccessFlag uint32

const (
	ACCESS_EXISTS    AccessFlag = 0
	ACCESS_READWRITE AccessFlag = 1
	ACCESS_READ      AccessFlag = 2
)

// LockLevel mirrors the engine's file-locking state machine.
type LockLevel int32

const (
	LOCK_NONE LockLevel = iota
	LOCK_SHARED
	LOCK_RESERVED
	LOCK_PENDING
	LOCK_EXCLUSIVE
)

// SyncFlag mirrors the engine's xSync flag argument.
type SyncFlag uint32

const (
	SYNC_NORMAL   SyncFlag = 0x00002
	SYNC_FULL     SyncFlag = 0x00003
	SYNC_DATAONLY SyncFlag = 0x00010
)

// DeviceCharacteristic mirrors the engine's xDeviceCharacteristics bitmask.
type DeviceCharacteristic uint32

const (
	IOCAP_ATOMIC             DeviceCharacteristic = 0x00000001
	IOCAP_SEQUENTIAL         DeviceCharacteristic = 0x00000400
	IOCAP_SAFE_APPEND        DeviceCharacteristic = 0x00000200
	IOCAP_UNDELETABLE_WHEN_OPEN DeviceCharacteristic = 0x00000800
	IOCAP_POWERSAFE_OVERWRITE DeviceCharacteristic = 0x00001000
)

// FcntlOpcode mirrors the engine's xFileControl opcode argument.
type FcntlOpcode int32

// File is the synchronous per-open-file contract. Every method must
// return quickly; none may block on anything but the backing store
// itself, and none may let a Go panic escape across the FFI boundary.
type File interface {
	Close() error
	ReadAt(p []byte, off int64) (n int, err error)
	WriteAt(p []byte, off int64) (n int, err error)
	Truncate(size int64) error
	Sync(flags SyncFlag) error
	Size() (int64, error)
	Lock(lock LockLevel) error
	Unlock(lock LockLevel) error
	CheckReservedLock() (bool, error)
	SectorSize() int
	DeviceCharacteristics() DeviceCharacteristic
}

// FileLockState is an optional extension a File implements so callers
// can read back its current lock level without another syscall.
type FileLockState interface {
	LockState() LockLevel
}

// FileSizeHint is an optional extension a File implements to receive a
// hint about a file's eventual size, letting it pre-size storage.
type FileSizeHint interface {
	SizeHint(size int64) error
}

// FileControl is an optional extension for xFileControl opcodes a File
// wants to handle itself; unhandled opcodes return sqlite3.NOTFOUND.
type FileControl interface {
	FileControl(op FcntlOpcode, arg []byte) error
}

// VFS is the synchronous file-system contract. Randomness, sleep and
// last-error reporting are optional extensions below; [CurrentTime],
// [CurrentTimeInt64], [DefaultRandomness] and [DefaultSleep] supply the
// shared defaults implementations may delegate to.
type VFS interface {
	Open(name string, flags OpenFlag) (File, OpenFlag, error)
	Delete(name string, syncDir bool) error
	Access(name string, flags AccessFlag) (bool, error)
	FullPathname(name string) (string, error)
}

// Randomness is an optional extension; a VFS without it is expected to
// inherit randomness from the default VFS (see [DefaultRandomness]).
type Randomness interface {
	Randomness(p []byte) int
}

// Sleeper is an optional extension; a VFS without it is expected to
// inherit sleep from the default VFS (see [DefaultSleep]), which no-ops.
type Sleeper interface {
	Sleep(d int64) error
}

// LastErrorer is an optional extension exposing spec §4.3.5's
// xGetLastError: a consume-once read of the most recent I/O error
// message recorded against this VFS instance.
type LastErrorer interface {
	GetLastError(p []byte) (int, error)
}

var (
	registryMu sync.RWMutex
	registry   = map[string]VFS{}
)

// Register installs vfs under name, so the engine can select it by
// passing "?vfs=name" in a database URI. Re-registering under the same
// name replaces the previous entry; this mirrors the teacher's own
// vfs.Register(name, memVFS{}) call in vfs/ordmap-mvcc/api.go.
func Register(name string, v VFS) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = v
}

// Find looks up a previously [Register]ed VFS by name.
func Find(name string) VFS {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registry[name]
}
