// Package asyncproxy implements Strategy B of spec.md: a synchronous
// VFS fronting an asynchronous storage backend by shuttling every call
// across a shared-state block to a dedicated worker goroutine and
// blocking the caller until the worker answers. It supports file names
// and concurrency patterns Strategy A's fixed pool cannot, at the cost
// of a cross-goroutine round trip on every VFS entry point.
//
// There is no literal SharedArrayBuffer or second thread of the kind the
// browser original hands this state to; the caller goroutine and the
// worker goroutine share ordinary Go memory instead. The wait/notify
// discipline is kept anyway — atomics plus a bounded spin-and-yield loop,
// not a channel — the same technique the teacher uses for lock
// acquisition in vfs/ordmap-mvcc/memdb.go's memFile.Lock, so the call
// protocol below is a direct translation rather than a reinvention.
package asyncproxy

import (
	"runtime"
	"sync/atomic"
	"time"
)

// maxPathname is this VFS's mxPathname (spec §6.1: 1024 for Strategy B).
const maxPathname = 1024

// ioBlockSize is the bulk-transfer block size: the engine's largest page
// size, spec §3/§4.4.1.
const ioBlockSize = 65536

// s11nBlockSize is the argument/result serialization block size, spec
// §3: "2 x max_pathname".
const s11nBlockSize = 2 * maxPathname

const opNone int32 = 0
const rcPending int32 = -1

// spinInterval paces the wait loop between polls, mirroring the
// teacher's spinWait constant in vfs/ordmap-mvcc/memdb.go.
const spinInterval = 25 * time.Microsecond

// SharedState is the Go analogue of spec §4.4.1's shared buffer: the
// WHICH_OP and RC slots plus the I/O and serialization blocks. Only one
// call is ever in flight at a time per SharedState (the engine is
// single-threaded per file, and this module gives each VFS instance its
// own SharedState), so the blocks need no additional locking beyond the
// atomics that gate the handoff.
type SharedState struct {
	whichOp atomic.Int32
	rc      atomic.Int32

	ioBuf []byte
	s11n  []byte
}

func newSharedState() *SharedState {
	return &SharedState{
		ioBuf: make([]byte, ioBlockSize),
		s11n:  make([]byte, s11nBlockSize),
	}
}

// waitForChange blocks until v no longer holds want, polling with a
// bounded sleep-and-yield instead of a true futex wait — Go has no
// portable Atomics.wait equivalent outside cgo. Per spec §5, individual
// ops carry no caller-side timeout: if the worker wedges, this loop
// simply never returns, exactly as the browser original blocks forever.
func waitForChange(v *atomic.Int32, want int32) int32 {
	for {
		if cur := v.Load(); cur != want {
			return cur
		}
		runtime.Gosched()
		time.Sleep(spinInterval)
	}
}

// call executes the spec §4.4.3 caller-side protocol for op, assuming
// arguments have already been written into s.s11n/s.ioBuf. It returns
// the worker's result code.
func (s *SharedState) call(op int32) int32 {
	s.rc.Store(rcPending)
	s.whichOp.Store(op)
	return waitForChange(&s.rc, rcPending)
}

// next blocks until a call arrives, returning its op id. Used by the
// worker's mirror-side loop (spec §4.4.3: "wait on WHICH_OP, dispatch").
func (s *SharedState) next() int32 {
	return waitForChange(&s.whichOp, opNone)
}

// respond writes rc and resets WHICH_OP, letting the caller's wait in
// call return.
func (s *SharedState) respond(rc int32) {
	s.whichOp.Store(opNone)
	s.rc.Store(rc)
}
