package asyncproxy

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"github.com/tursodatabase/oosvfs/objectstore"
	"github.com/tursodatabase/oosvfs/sqlite3"
	"github.com/tursodatabase/oosvfs/vfs"
)

// Name is the VFS name advertised to the engine, spec §6.1.
const Name = "opfs"

// MaxPathname is this VFS's mxPathname, spec §6.1 ("1024 for B").
const MaxPathname = maxPathname

// VFS implements Strategy B: every call crosses to a dedicated worker
// goroutine over a [SharedState] and blocks for the reply, per spec
// §4.4/§5.
type VFS struct {
	state  *SharedState
	worker *worker
	cancel context.CancelFunc

	mu      sync.Mutex
	lastErr string
}

var (
	_ vfs.VFS         = (*VFS)(nil)
	_ vfs.LastErrorer = (*VFS)(nil)
)

// New starts the async proxy worker over store and returns the VFS
// fronting it. Callers should Close the VFS to stop the worker
// goroutine once it is no longer needed.
func New(ctx context.Context, store objectstore.Store) *VFS {
	ctx, cancel := context.WithCancel(ctx)
	state := newSharedState()
	w := newWorker(ctx, store, state)
	go w.run()
	return &VFS{state: state, worker: w, cancel: cancel}
}

// Close shuts down the worker goroutine, per spec §4.4.5's mirror of
// installation lifetime: the proxy is only ever torn down by its owner,
// never by a caller mid-call.
func (v *VFS) Close() error {
	v.state.call(opShutdown)
	v.cancel()
	return nil
}

func normalizeName(name string) string {
	if name == "" {
		return "/anon"
	}
	if u, err := url.Parse("file:///" + strings.TrimPrefix(name, "/")); err == nil {
		return u.Path
	}
	return name
}

// unlockAsapFromURI parses the `?opfs-unlock-asap=1` query parameter of
// spec §4.4.4/§6.3.
func unlockAsapFromURI(name string) bool {
	i := strings.IndexByte(name, '?')
	if i < 0 {
		return false
	}
	q, err := url.ParseQuery(name[i+1:])
	if err != nil {
		return false
	}
	return q.Get("opfs-unlock-asap") == "1"
}

func (v *VFS) setLastError(msg string) {
	v.mu.Lock()
	v.lastErr = msg
	v.mu.Unlock()
}

func (v *VFS) fail(code sqlite3.ErrorCode) error {
	if code == sqlite3.OK {
		return nil
	}
	msg, _ := decodeArgs(v.state.s11n)
	if len(msg) == 1 && msg[0].tag == tagString {
		v.setLastError(msg[0].asString())
	}
	return &sqlite3.Error{Code: code}
}

func (v *VFS) Open(name string, flags vfs.OpenFlag) (vfs.File, vfs.OpenFlag, error) {
	path := normalizeName(name)
	unlockAsap := unlockAsapFromURI(name)

	if _, err := encodeArgs(v.state.s11n, str(path), boolean(flags&vfs.OPEN_CREATE != 0), boolean(unlockAsap)); err != nil {
		return nil, flags, err
	}
	rc := sqlite3.ErrorCode(v.state.call(opOpen))
	if rc != sqlite3.OK {
		return nil, flags, v.fail(rc)
	}

	args, err := decodeArgs(v.state.s11n)
	if err != nil || len(args) != 1 {
		return nil, flags, &sqlite3.Error{Code: sqlite3.IOERR, Msg: "asyncproxy: malformed xOpen reply"}
	}

	return &File{
		vfs:   v,
		id:    args[0].asInt64(),
		path:  path,
		flags: flags,
	}, flags, nil
}

func (v *VFS) Delete(name string, syncDir bool) error {
	path := normalizeName(name)
	if _, err := encodeArgs(v.state.s11n, str(path)); err != nil {
		return err
	}
	rc := sqlite3.ErrorCode(v.state.call(opDeletePath))
	return v.fail(rc)
}

func (v *VFS) Access(name string, flags vfs.AccessFlag) (bool, error) {
	path := normalizeName(name)
	if _, err := encodeArgs(v.state.s11n, str(path)); err != nil {
		return false, err
	}
	rc := sqlite3.ErrorCode(v.state.call(opAccessPath))
	if rc != sqlite3.OK {
		return false, v.fail(rc)
	}
	args, err := decodeArgs(v.state.s11n)
	if err != nil || len(args) != 1 {
		return false, &sqlite3.Error{Code: sqlite3.IOERR, Msg: "asyncproxy: malformed xAccess reply"}
	}
	return args[0].asBool(), nil
}

func (v *VFS) FullPathname(name string) (string, error) {
	path := normalizeName(name)
	if len(path) >= MaxPathname {
		return "", &sqlite3.Error{Code: sqlite3.CANTOPEN, Msg: "asyncproxy: full pathname exceeds mxPathname"}
	}
	return path, nil
}

func (v *VFS) GetLastError(p []byte) (int, error) {
	v.mu.Lock()
	msg := v.lastErr
	v.lastErr = ""
	v.mu.Unlock()
	n := copy(p, msg)
	if n < len(p) {
		p[n] = 0
	} else if len(p) > 0 {
		p[len(p)-1] = 0
		n = len(p) - 1
	}
	return n, nil
}
