// Package objectstore generalizes the browser's origin-private object
// store (OOS) that spec.md is written against into a Go-native
// interface: an asynchronous, handle-based blob store whose native
// operations take a context and may genuinely block on the network,
// plus one narrow synchronous escape hatch — [Store.AcquireSync] —
// mirroring the OOS's recently-added synchronous access handle.
//
// Both VFS strategies in this module (vfs/sahpool, vfs/asyncproxy) are
// written against this interface, not against any one backend, so the
// same VFS code runs over local disk (objectstore/diskstore), a plain
// in-memory map (objectstore/memstore), or read-only HTTP range
// requests (objectstore/httpstore).
package objectstore

import "context"

// Store is an asynchronous, handle-based blob store.
type Store interface {
	// Stat reports whether name exists and its size.
	Stat(ctx context.Context, name string) (size int64, exists bool, err error)

	// List enumerates the names directly under dir.
	List(ctx context.Context, dir string) ([]string, error)

	// MkdirAll ensures dir (and its parents) exist.
	MkdirAll(ctx context.Context, dir string) error

	// Remove deletes name. Removing a name that doesn't exist is not an
	// error, matching spec §4.3.5's xDelete "unknown paths are a silent
	// no-op" (callers that need to distinguish use Stat first).
	Remove(ctx context.Context, name string) error

	// ReadAt, WriteAt and Truncate are the OOS's primary promise-returning
	// API: every backend offers these, including ones that cannot offer
	// AcquireSync (e.g. objectstore/httpstore, which cannot hold a remote
	// handle open). Strategy B's async-proxy worker is written against
	// these three, crossing to its own goroutine on every call the way the
	// real async OOS methods would cross back into the browser's event
	// loop. Strategy A never calls them: it holds synchronous handles for
	// its pool's entire lifetime instead.
	ReadAt(ctx context.Context, name string, p []byte, off int64) (n int, err error)
	WriteAt(ctx context.Context, name string, p []byte, off int64) (n int, err error)
	Truncate(ctx context.Context, name string, size int64) error

	// AcquireSync opens name for exclusive, synchronous access and
	// returns a handle good for the lifetime of the returned
	// [SyncHandle]'s Close. create controls whether a missing name is
	// created. This is the one operation the OOS lets the calling
	// thread perform without crossing back into the event loop — the
	// capability Strategy A exploits directly, and that Strategy B's
	// worker deliberately avoids so it keeps working against backends
	// (like HTTP range reads) that cannot offer it.
	AcquireSync(ctx context.Context, name string, create bool) (SyncHandle, error)
}

// SyncHandle is an exclusive, already-open handle offering blocking
// reads/writes with no further context plumbing — the OOS's
// FileSystemSyncAccessHandle.
type SyncHandle interface {
	ReadAt(p []byte, off int64) (n int, err error)
	WriteAt(p []byte, off int64) (n int, err error)
	Truncate(size int64) error
	Flush() error
	Size() (int64, error)
	Close() error
}

// CapabilityError is returned by Store implementations that cannot
// support AcquireSync, letting a caller fall back to Strategy B instead
// of Strategy A — the Go analogue of spec §7's "Capability-missing"
// error kind.
type CapabilityError struct {
	Op     string
	Reason string
}

func (e *CapabilityError) Error() string {
	return "objectstore: " + e.Op + " unsupported: " + e.Reason
}
