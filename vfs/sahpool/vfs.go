package sahpool

import (
	"io"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/tursodatabase/oosvfs/sqlite3"
	"github.com/tursodatabase/oosvfs/vfs"
)

// Name is the VFS name advertised to the engine, spec §6.1.
const Name = "opfs-sahpool"

// MaxPathname is the VFS's mxPathname, spec §6.1.
const MaxPathname = 512

// VFS adapts a [Pool] to the vfs.VFS contract, implementing spec §4.3.3
// through §4.3.5.
type VFS struct {
	pool *Pool
}

var _ vfs.VFS = (*VFS)(nil)
var _ vfs.Randomness = (*VFS)(nil)
var _ vfs.Sleeper = (*VFS)(nil)
var _ vfs.LastErrorer = (*VFS)(nil)

// New wraps an already-initialized Pool as a vfs.VFS.
func New(pool *Pool) *VFS {
	return &VFS{pool: pool}
}

// Pool returns the underlying pool, for the post-open administration
// surface of spec §4.3.6 (exposed on the wrapping database, not the VFS
// itself).
func (v *VFS) Pool() *Pool { return v.pool }

// normalizeName resolves a caller-supplied name against a synthetic
// root and takes the path component only, per spec §4.3.3. A null/empty
// name is replaced by a fresh random name (used for journal/temp files
// whose lifetime does not exceed the open handle).
func normalizeName(name string) string {
	if name == "" {
		return "/" + uuid.NewString()
	}
	if u, err := url.Parse("file:///" + strings.TrimPrefix(name, "/")); err == nil {
		return u.Path
	}
	return name
}

func (v *VFS) Open(name string, flags vfs.OpenFlag) (vfs.File, vfs.OpenFlag, error) {
	path := normalizeName(name)

	if s, ok := v.pool.resolve(path); ok {
		return &File{pool: v.pool, slot: s, path: path, flags: flags}, flags, nil
	}

	if flags&vfs.OPEN_CREATE == 0 {
		return nil, flags, &sqlite3.Error{Code: sqlite3.CANTOPEN, Msg: "sahpool: " + path + " not found"}
	}

	s, err := v.pool.associate(path, flags)
	if err != nil {
		v.pool.fail(err, sqlite3.CANTOPEN)
		return nil, flags, &sqlite3.Error{Code: sqlite3.CANTOPEN, Msg: err.Error()}
	}

	return &File{pool: v.pool, slot: s, path: path, flags: flags}, flags, nil
}

func (v *VFS) Delete(name string, syncDir bool) error {
	path := normalizeName(name)
	if err := v.pool.dissociate(path); err != nil {
		return asErr(v.pool.fail(err, sqlite3.IOERR_DELETE))
	}
	return nil
}

func (v *VFS) Access(name string, flags vfs.AccessFlag) (bool, error) {
	return v.pool.Access(normalizeName(name)), nil
}

func (v *VFS) FullPathname(name string) (string, error) {
	path := normalizeName(name)
	if len(path) >= MaxPathname {
		return "", &sqlite3.Error{Code: sqlite3.CANTOPEN, Msg: "sahpool: full pathname exceeds mxPathname"}
	}
	return path, nil
}

func (v *VFS) Randomness(p []byte) int { return vfs.DefaultRandomness(p) }
func (v *VFS) Sleep(micros int64) error { return vfs.DefaultSleep(micros) }

func (v *VFS) GetLastError(p []byte) (int, error) {
	return v.pool.GetLastError(p)
}

func asErr(code sqlite3.ErrorCode) error {
	if code == sqlite3.OK {
		return nil
	}
	return &sqlite3.Error{Code: code}
}

// File is a virtual open file bound to a pool slot, spec §3/§4.3.4.
type File struct {
	pool  *Pool
	slot  *slot
	path  string
	flags vfs.OpenFlag
	lock  vfs.LockLevel
}

var (
	_ vfs.File          = (*File)(nil)
	_ vfs.FileLockState = (*File)(nil)
)

func (f *File) Close() error {
	if err := f.slot.handle.Flush(); err != nil {
		return asErr(f.pool.fail(err, sqlite3.IOERR_CLOSE))
	}
	if f.flags&vfs.OPEN_DELETEONCLOSE != 0 {
		if err := f.pool.dissociate(f.path); err != nil {
			return asErr(f.pool.fail(err, sqlite3.IOERR_CLOSE))
		}
	}
	return nil
}

func (f *File) ReadAt(p []byte, off int64) (int, error) {
	n, err := f.slot.handle.ReadAt(p, HeaderOffsetData+off)
	if err == io.EOF {
		clear(p[n:])
		return len(p), &sqlite3.Error{Code: sqlite3.IOERR_SHORT_READ}
	}
	if err != nil {
		return n, asErr(f.pool.fail(err, sqlite3.IOERR_READ))
	}
	return n, nil
}

func (f *File) WriteAt(p []byte, off int64) (int, error) {
	n, err := f.slot.handle.WriteAt(p, HeaderOffsetData+off)
	if err != nil {
		return n, asErr(f.pool.fail(err, sqlite3.IOERR_WRITE))
	}
	return n, nil
}

func (f *File) Truncate(size int64) error {
	if err := f.slot.handle.Truncate(HeaderOffsetData + size); err != nil {
		return asErr(f.pool.fail(err, sqlite3.IOERR_TRUNCATE))
	}
	return nil
}

func (f *File) Sync(vfs.SyncFlag) error {
	if err := f.slot.handle.Flush(); err != nil {
		return asErr(f.pool.fail(err, sqlite3.IOERR_FSYNC))
	}
	return nil
}

func (f *File) Size() (int64, error) {
	sz, err := f.slot.handle.Size()
	if err != nil {
		return 0, asErr(f.pool.fail(err, sqlite3.IOERR_FSTAT))
	}
	return sz - HeaderOffsetData, nil
}

// Lock/Unlock/CheckReservedLock are recorded on the file object only,
// with no underlying store call: the pool's one-slot-per-path,
// exclusive-handle design already makes this VFS single-writer by
// construction (spec §4.3.4, §5's "Non-goals").
func (f *File) Lock(lock vfs.LockLevel) error {
	if lock > f.lock {
		f.lock = lock
	}
	return nil
}

func (f *File) Unlock(lock vfs.LockLevel) error {
	if lock < f.lock {
		f.lock = lock
	}
	return nil
}

func (f *File) CheckReservedLock() (bool, error) {
	return f.lock >= vfs.LOCK_RESERVED, nil
}

func (f *File) LockState() vfs.LockLevel { return f.lock }

func (f *File) SectorSize() int { return HeaderOffsetData }

func (f *File) DeviceCharacteristics() vfs.DeviceCharacteristic {
	return vfs.IOCAP_UNDELETABLE_WHEN_OPEN
}

func (f *File) FileControl(op vfs.FcntlOpcode, arg []byte) error {
	// xFileControl(SYNC) routes to the slot's flush, per spec §9's
	// resolution of xUnlock/xFileControl ordering ambiguity.
	const fcntlSync vfs.FcntlOpcode = 21
	if op == fcntlSync {
		return f.Sync(vfs.SYNC_NORMAL)
	}
	return asErr(sqlite3.NOTFOUND)
}
