package asyncproxy

import (
	"context"
	"io"
	"sync"

	"github.com/tursodatabase/oosvfs/objectstore"
	"github.com/tursodatabase/oosvfs/sqlite3"
)

// Op ids, spec §4.4.1's "one entry per registered operation name".
const (
	opOpen int32 = iota + 1
	opClose
	opRead
	opWrite
	opTruncate
	opSync
	opFileSize
	opDeletePath
	opAccessPath
	opShutdown
)

// openFile is the worker-side record for one open file: just enough
// bookkeeping to turn a fileID back into a name. xOpen forwards only the
// create and unlock-asap bits, so the flags field is left zero. The
// worker never holds a handle open across calls — every I/O op is a
// fresh round trip through the store's plain async ReadAt/WriteAt/
// Truncate, the same way the browser's async OOS methods would each
// cross back into the event loop. Only the worker goroutine ever
// touches these; the caller only ever holds a fileID.
type openFile struct {
	name       string
	flags      int64
	unlockAsap bool
}

// worker is the async proxy worker of spec §4.4: the only party
// permitted to call the asynchronous storage API, driven entirely by
// the shared-state call protocol.
type worker struct {
	ctx   context.Context
	store objectstore.Store
	state *SharedState

	mu     sync.Mutex
	files  map[int64]*openFile
	nextID int64
}

func newWorker(ctx context.Context, store objectstore.Store, state *SharedState) *worker {
	return &worker{
		ctx:   ctx,
		store: store,
		state: state,
		files: make(map[int64]*openFile),
	}
}

// run is the worker's mirror-side loop (spec §4.4.3): wait on WHICH_OP,
// dispatch, respond. It returns once it services an opShutdown call.
func (w *worker) run() {
	for {
		op := w.state.next()
		if op == opShutdown {
			w.state.respond(int32(sqlite3.OK))
			return
		}
		rc := w.dispatch(op)
		w.state.respond(int32(rc))
	}
}

func (w *worker) dispatch(op int32) sqlite3.ErrorCode {
	args, err := decodeArgs(w.state.s11n)
	if err != nil {
		return sqlite3.IOERR
	}

	switch op {
	case opOpen:
		return w.handleOpen(args)
	case opClose:
		return w.handleClose(args)
	case opRead:
		return w.handleRead(args)
	case opWrite:
		return w.handleWrite(args)
	case opTruncate:
		return w.handleTruncate(args)
	case opSync:
		return w.handleSync(args)
	case opFileSize:
		return w.handleFileSize(args)
	case opDeletePath:
		return w.handleDelete(args)
	case opAccessPath:
		return w.handleAccess(args)
	default:
		return sqlite3.MISUSE
	}
}

func (w *worker) handleOpen(args []arg) sqlite3.ErrorCode {
	if len(args) < 3 {
		return sqlite3.MISUSE
	}
	name := args[0].asString()
	create := args[1].asBool()
	unlockAsap := args[2].asBool()

	_, exists, err := w.store.Stat(w.ctx, name)
	if err != nil {
		w.reportError(err)
		return sqlite3.CANTOPEN
	}
	if !exists && !create {
		return sqlite3.CANTOPEN
	}
	if !exists {
		// Bring the name into existence now so a subsequent xAccess or
		// xFileSize without an intervening write still finds it, matching
		// a freshly AcquireSync-created handle's visible side effect.
		if err := w.store.Truncate(w.ctx, name, 0); err != nil {
			w.reportError(err)
			return sqlite3.CANTOPEN
		}
	}

	w.mu.Lock()
	w.nextID++
	id := w.nextID
	w.files[id] = &openFile{name: name, unlockAsap: unlockAsap}
	w.mu.Unlock()

	if _, err := encodeArgs(w.state.s11n, bigint(id)); err != nil {
		w.reportError(err)
		return sqlite3.IOERR
	}
	return sqlite3.OK
}

func (w *worker) lookup(id int64) (*openFile, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	f, ok := w.files[id]
	return f, ok
}

func (w *worker) handleClose(args []arg) sqlite3.ErrorCode {
	if len(args) < 2 {
		return sqlite3.MISUSE
	}
	id := args[0].asInt64()
	deleteOnClose := args[1].asBool()

	f, ok := w.lookup(id)
	if !ok {
		return sqlite3.MISUSE
	}
	if deleteOnClose {
		w.store.Remove(w.ctx, f.name)
	}

	w.mu.Lock()
	delete(w.files, id)
	w.mu.Unlock()
	return sqlite3.OK
}

func (w *worker) handleRead(args []arg) sqlite3.ErrorCode {
	if len(args) < 3 {
		return sqlite3.MISUSE
	}
	id := args[0].asInt64()
	n := int(args[1].asInt64())
	off := args[2].asInt64()

	f, ok := w.lookup(id)
	if !ok {
		return sqlite3.MISUSE
	}
	if n > len(w.state.ioBuf) {
		return sqlite3.IOERR_READ
	}

	got, err := w.store.ReadAt(w.ctx, f.name, w.state.ioBuf[:n], off)
	if err == io.EOF {
		clear(w.state.ioBuf[got:n])
		return sqlite3.IOERR_SHORT_READ
	}
	if err != nil {
		w.reportError(err)
		return sqlite3.IOERR_READ
	}
	return sqlite3.OK
}

func (w *worker) handleWrite(args []arg) sqlite3.ErrorCode {
	if len(args) < 3 {
		return sqlite3.MISUSE
	}
	id := args[0].asInt64()
	n := int(args[1].asInt64())
	off := args[2].asInt64()

	f, ok := w.lookup(id)
	if !ok {
		return sqlite3.MISUSE
	}
	if n > len(w.state.ioBuf) {
		return sqlite3.IOERR_WRITE
	}

	if _, err := w.store.WriteAt(w.ctx, f.name, w.state.ioBuf[:n], off); err != nil {
		w.reportError(err)
		return sqlite3.IOERR_WRITE
	}
	return sqlite3.OK
}

func (w *worker) handleTruncate(args []arg) sqlite3.ErrorCode {
	if len(args) < 2 {
		return sqlite3.MISUSE
	}
	id := args[0].asInt64()
	size := args[1].asInt64()

	f, ok := w.lookup(id)
	if !ok {
		return sqlite3.MISUSE
	}
	if err := w.store.Truncate(w.ctx, f.name, size); err != nil {
		w.reportError(err)
		return sqlite3.IOERR_TRUNCATE
	}
	return sqlite3.OK
}

// handleSync is a no-op: every read/write above already round-trips
// through the store on its own call, so there is nothing buffered for
// xSync to flush. It still validates the fileID the way a real sync
// call would.
func (w *worker) handleSync(args []arg) sqlite3.ErrorCode {
	if len(args) < 1 {
		return sqlite3.MISUSE
	}
	id := args[0].asInt64()

	if _, ok := w.lookup(id); !ok {
		return sqlite3.MISUSE
	}
	return sqlite3.OK
}

func (w *worker) handleFileSize(args []arg) sqlite3.ErrorCode {
	if len(args) < 1 {
		return sqlite3.MISUSE
	}
	id := args[0].asInt64()

	f, ok := w.lookup(id)
	if !ok {
		return sqlite3.MISUSE
	}
	sz, _, err := w.store.Stat(w.ctx, f.name)
	if err != nil {
		w.reportError(err)
		return sqlite3.IOERR_FSTAT
	}
	if _, err := encodeArgs(w.state.s11n, bigint(sz)); err != nil {
		w.reportError(err)
		return sqlite3.IOERR
	}
	return sqlite3.OK
}

func (w *worker) handleDelete(args []arg) sqlite3.ErrorCode {
	if len(args) < 1 {
		return sqlite3.MISUSE
	}
	name := args[0].asString()
	if err := w.store.Remove(w.ctx, name); err != nil {
		w.reportError(err)
		return sqlite3.IOERR_DELETE
	}
	return sqlite3.OK
}

func (w *worker) handleAccess(args []arg) sqlite3.ErrorCode {
	if len(args) < 1 {
		return sqlite3.MISUSE
	}
	name := args[0].asString()
	_, exists, err := w.store.Stat(w.ctx, name)
	if err != nil {
		w.reportError(err)
		return sqlite3.IOERR_ACCESS
	}
	if _, err := encodeArgs(w.state.s11n, boolean(exists)); err != nil {
		w.reportError(err)
		return sqlite3.IOERR
	}
	return sqlite3.OK
}

// reportError stashes err's message into the s11n block as a single
// string argument, so the caller side's exception-logging path (spec
// §4.4.3 step 4) can surface it without a second round trip.
func (w *worker) reportError(err error) {
	encodeArgs(w.state.s11n, str(err.Error()))
}
