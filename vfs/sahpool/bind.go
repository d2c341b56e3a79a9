package sahpool

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/tursodatabase/oosvfs/internal/abi"
	"github.com/tursodatabase/oosvfs/sqlite3"
	"github.com/tursodatabase/oosvfs/vfs"
)

// Struct-pointer-table byte offsets this package binds, per spec §4.1.
// These are this binding's own private layout agreement — nothing
// outside this file reads them — so they only need to stay internally
// consistent, not bit-for-bit compatible with sqlite3.c's real vtables.
const (
	vfsOffOpen         = 0
	vfsOffDelete       = 4
	vfsOffAccess       = 8
	vfsOffFullPathname = 12
	vfsOffRandomness   = 16
	vfsOffSleep        = 20
	vfsOffGetLastError = 24

	// fileOffMethods is the offset every bound file struct's pMethods
	// field lives at: the one word every open file carries pointing back
	// at the single shared io_methods struct built by bindIOMethods.
	fileOffMethods = 0

	ioOffClose                 = 0
	ioOffRead                  = 4
	ioOffWrite                 = 8
	ioOffTruncate              = 12
	ioOffSync                  = 16
	ioOffFileSize              = 20
	ioOffLock                  = 24
	ioOffUnlock                = 28
	ioOffCheckReservedLock     = 32
	ioOffFileControl           = 36
	ioOffSectorSize            = 40
	ioOffDeviceCharacteristics = 44
)

// openFile is the bookkeeping a bound xOpen keeps so a later call
// against the same file pointer can recover the real vfs.File, and so
// xClose can dispose the struct_of handle it was issued.
type openFile struct {
	handle *abi.Handle
	file   vfs.File
}

// Bound is a [VFS]'s struct-binder projection onto a wazero-hosted
// module's linear memory: the vfs struct, the one io_methods struct
// every open file's pMethods field points at, and the host module
// supplying both that linear memory and the function-table entries
// SetMethod installs into — all built against a real wazero.Runtime,
// per spec §4.1.
type Bound struct {
	runtime   wazero.Runtime
	memMod    api.Module
	installer *abi.WazeroInstaller
	alloc     *abi.LinearAllocator

	vfsHandle *abi.Handle
	ioHandle  *abi.Handle

	v *VFS

	mu    sync.Mutex
	files map[uint32]*openFile
}

// BindVFS projects v onto a fresh wazero-hosted module's linear
// memory: it builds the vfs and io_methods structs via [abi.StructOf]
// and installs every VFS/File method as a host function via
// [abi.Handle.SetMethod], using [abi.WazeroInstaller] against runtime.
// The compiled engine module that would actually call through this
// table is an external collaborator (spec §1, §6.4) not implemented
// here; BindVFS only makes the method table reachable the way that
// collaborator would expect to find it.
func BindVFS(ctx context.Context, runtime wazero.Runtime, v *VFS) (*Bound, error) {
	memMod, err := runtime.NewHostModuleBuilder(Name + "-memory").
		ExportMemory("memory", 1).
		Instantiate(ctx)
	if err != nil {
		return nil, fmt.Errorf("sahpool: bind: hosting linear memory: %w", err)
	}

	b := &Bound{
		runtime:   runtime,
		memMod:    memMod,
		installer: abi.NewWazeroInstaller(runtime),
		alloc:     abi.NewLinearAllocator(memMod),
		v:         v,
		files:     map[uint32]*openFile{},
	}

	ioHandle, err := abi.StructOf(ctx, memMod.Memory(), b.alloc, b.installer, abi.KindIOMethods, 0)
	if err != nil {
		return nil, err
	}
	b.ioHandle = ioHandle
	if err := b.bindIOMethods(); err != nil {
		return nil, err
	}

	vfsHandle, err := abi.StructOf(ctx, memMod.Memory(), b.alloc, b.installer, abi.KindVFS, 0)
	if err != nil {
		return nil, err
	}
	b.vfsHandle = vfsHandle
	vfsHandle.Adopt(ioHandle)
	if err := b.bindVFSMethods(ctx); err != nil {
		return nil, err
	}

	return b, nil
}

// VFSPtr is the address of the bound vfs struct in the hosted module's
// linear memory.
func (b *Bound) VFSPtr() uint32 { return b.vfsHandle.Ptr() }

// IOMethodsPtr is the address of the shared io_methods struct every
// bound file's pMethods field points at.
func (b *Bound) IOMethodsPtr() uint32 { return b.ioHandle.Ptr() }

// Memory is the hosted module's linear memory, for callers (tests in
// particular) that need to read back what a bound method wrote.
func (b *Bound) Memory() api.Memory { return b.memMod.Memory() }

// Call invokes the host function installed at index directly, as a
// stand-in for the real engine's trampoline calling through the
// function table SetMethod wrote into. install returns the index each
// bindXxx helper below records.
func (b *Bound) Call(ctx context.Context, index uint32, args ...uint64) ([]uint64, error) {
	mod, ok := b.installer.Module(index)
	if !ok {
		return nil, fmt.Errorf("sahpool: bind: no installed function at index %d", index)
	}
	fn := mod.ExportedFunction("call")
	if fn == nil {
		return nil, fmt.Errorf("sahpool: bind: installed module %d has no exported call", index)
	}
	return fn.Call(ctx, args...)
}

// Close releases every module this binding ever instantiated: each
// installed host function's own module, the vfs/io_methods structs
// (which only frees the [LinearAllocator]'s bookkeeping, since it never
// reclaims), and the linear-memory host module itself.
func (b *Bound) Close(ctx context.Context) error {
	b.vfsHandle.Dispose() // cascades to ioHandle via Adopt
	if err := b.installer.Close(ctx); err != nil {
		return err
	}
	return b.memMod.Close(ctx)
}

func (b *Bound) readString(ptr, length uint32) (string, bool) {
	buf, ok := b.memMod.Memory().Read(ptr, length)
	if !ok {
		return "", false
	}
	return string(buf), true
}

func (b *Bound) install(h *abi.Handle, offset uint32, fn any) (uint32, error) {
	idx, err := b.installer.Install(fn)
	if err != nil {
		return 0, err
	}
	if err := h.SetMethod(offset, idx); err != nil {
		return 0, err
	}
	return idx, nil
}

// bindVFSMethods installs xOpen, xDelete, xAccess, xFullPathname,
// xRandomness, xSleep and xGetLastError as host functions at this
// file's own vfs offsets. xCurrentTime and xCurrentTimeInt64 are not
// bound; the vfs struct has no slot for them.
func (b *Bound) bindVFSMethods(ctx context.Context) error {
	// xOpen(namePtr, nameLen, flags uint32) (filePtr, outFlags, rc uint32)
	xOpen := func(namePtr, nameLen, flags uint32) (uint32, uint32, uint32) {
		name, ok := b.readString(namePtr, nameLen)
		if !ok {
			return 0, 0, uint32(sqlite3.MISUSE)
		}

		file, outFlags, err := b.v.Open(name, vfs.OpenFlag(flags))
		if err != nil {
			return 0, 0, uint32(sqlite3.AsErrorCode(err, sqlite3.CANTOPEN))
		}

		fh, err := abi.StructOf(ctx, b.memMod.Memory(), b.alloc, b.installer, abi.KindFile, 0)
		if err != nil {
			file.Close()
			return 0, 0, uint32(sqlite3.IOERR)
		}
		var methodsPtr [4]byte
		binary.LittleEndian.PutUint32(methodsPtr[:], b.ioHandle.Ptr())
		if !b.memMod.Memory().Write(fh.Ptr()+fileOffMethods, methodsPtr[:]) {
			fh.Dispose()
			file.Close()
			return 0, 0, uint32(sqlite3.IOERR)
		}

		b.mu.Lock()
		b.files[fh.Ptr()] = &openFile{handle: fh, file: file}
		b.mu.Unlock()

		return fh.Ptr(), uint32(outFlags), uint32(sqlite3.OK)
	}
	if _, err := b.install(b.vfsHandle, vfsOffOpen, xOpen); err != nil {
		return err
	}

	// xDelete(namePtr, nameLen, syncDir uint32) rc uint32
	xDelete := func(namePtr, nameLen, syncDir uint32) uint32 {
		name, ok := b.readString(namePtr, nameLen)
		if !ok {
			return uint32(sqlite3.MISUSE)
		}
		err := b.v.Delete(name, syncDir != 0)
		return uint32(sqlite3.AsErrorCode(err, sqlite3.IOERR_DELETE))
	}
	if _, err := b.install(b.vfsHandle, vfsOffDelete, xDelete); err != nil {
		return err
	}

	// xAccess(namePtr, nameLen, flags, resOutPtr uint32) rc uint32
	xAccess := func(namePtr, nameLen, flags, resOutPtr uint32) uint32 {
		name, ok := b.readString(namePtr, nameLen)
		if !ok {
			return uint32(sqlite3.MISUSE)
		}
		exists, err := b.v.Access(name, vfs.AccessFlag(flags))
		if err != nil {
			return uint32(sqlite3.AsErrorCode(err, sqlite3.IOERR_ACCESS))
		}
		var out [4]byte
		if exists {
			out[0] = 1
		}
		b.memMod.Memory().Write(resOutPtr, out[:])
		return uint32(sqlite3.OK)
	}
	if _, err := b.install(b.vfsHandle, vfsOffAccess, xAccess); err != nil {
		return err
	}

	// xFullPathname(namePtr, nameLen, outPtr, outCap uint32) rc uint32
	xFullPathname := func(namePtr, nameLen, outPtr, outCap uint32) uint32 {
		name, ok := b.readString(namePtr, nameLen)
		if !ok {
			return uint32(sqlite3.MISUSE)
		}
		full, err := b.v.FullPathname(name)
		if err != nil {
			return uint32(sqlite3.AsErrorCode(err, sqlite3.CANTOPEN))
		}
		if uint32(len(full))+1 > outCap {
			return uint32(sqlite3.CANTOPEN)
		}
		if !b.memMod.Memory().Write(outPtr, append([]byte(full), 0)) {
			return uint32(sqlite3.IOERR)
		}
		return uint32(sqlite3.OK)
	}
	if _, err := b.install(b.vfsHandle, vfsOffFullPathname, xFullPathname); err != nil {
		return err
	}

	// xRandomness(bufPtr, amt uint32) uint32 (bytes actually written)
	xRandomness := func(bufPtr, amt uint32) uint32 {
		buf := make([]byte, amt)
		n := b.v.Randomness(buf)
		if n < 0 {
			n = 0
		}
		b.memMod.Memory().Write(bufPtr, buf[:n])
		return uint32(n)
	}
	if _, err := b.install(b.vfsHandle, vfsOffRandomness, xRandomness); err != nil {
		return err
	}

	// xSleep(micros uint64) rc uint32
	xSleep := func(micros uint64) uint32 {
		err := b.v.Sleep(int64(micros))
		return uint32(sqlite3.AsErrorCode(err, sqlite3.IOERR))
	}
	if _, err := b.install(b.vfsHandle, vfsOffSleep, xSleep); err != nil {
		return err
	}

	// xGetLastError(bufPtr, bufLen uint32) uint32 (bytes written)
	xGetLastError := func(bufPtr, bufLen uint32) uint32 {
		buf := make([]byte, bufLen)
		n, _ := b.v.GetLastError(buf)
		if n < 0 {
			n = 0
		}
		b.memMod.Memory().Write(bufPtr, buf[:n])
		return uint32(n)
	}
	if _, err := b.install(b.vfsHandle, vfsOffGetLastError, xGetLastError); err != nil {
		return err
	}

	return nil
}

// bindIOMethods installs every [File] method spec §4.3.4 names, once,
// shared by every file this VFS ever opens: each closure takes the
// open file's struct pointer as its first argument and looks up the
// real vfs.File behind it, matching how a real sqlite3_io_methods
// vtable is one shared table indexed by the sqlite3_file* argument
// rather than a fresh table per open file.
func (b *Bound) bindIOMethods() error {
	lookup := func(filePtr uint32) (*openFile, bool) {
		b.mu.Lock()
		defer b.mu.Unlock()
		of, ok := b.files[filePtr]
		return of, ok
	}

	xClose := func(filePtr uint32) uint32 {
		b.mu.Lock()
		of, ok := b.files[filePtr]
		delete(b.files, filePtr)
		b.mu.Unlock()
		if !ok {
			return uint32(sqlite3.MISUSE)
		}
		err := of.file.Close()
		of.handle.Dispose()
		return uint32(sqlite3.AsErrorCode(err, sqlite3.IOERR_CLOSE))
	}
	if _, err := b.install(b.ioHandle, ioOffClose, xClose); err != nil {
		return err
	}

	// xRead(filePtr, bufPtr, amt uint32, offset uint64) rc uint32
	xRead := func(filePtr, bufPtr, amt uint32, offset uint64) uint32 {
		of, ok := lookup(filePtr)
		if !ok {
			return uint32(sqlite3.MISUSE)
		}
		buf := make([]byte, amt)
		n, err := of.file.ReadAt(buf, int64(offset))
		if n > 0 {
			b.memMod.Memory().Write(bufPtr, buf[:n])
		}
		return uint32(sqlite3.AsErrorCode(err, sqlite3.IOERR_READ))
	}
	if _, err := b.install(b.ioHandle, ioOffRead, xRead); err != nil {
		return err
	}

	// xWrite(filePtr, bufPtr, amt uint32, offset uint64) rc uint32
	xWrite := func(filePtr, bufPtr, amt uint32, offset uint64) uint32 {
		of, ok := lookup(filePtr)
		if !ok {
			return uint32(sqlite3.MISUSE)
		}
		buf, ok := b.memMod.Memory().Read(bufPtr, amt)
		if !ok {
			return uint32(sqlite3.MISUSE)
		}
		_, err := of.file.WriteAt(buf, int64(offset))
		return uint32(sqlite3.AsErrorCode(err, sqlite3.IOERR_WRITE))
	}
	if _, err := b.install(b.ioHandle, ioOffWrite, xWrite); err != nil {
		return err
	}

	// xTruncate(filePtr uint32, size uint64) rc uint32
	xTruncate := func(filePtr uint32, size uint64) uint32 {
		of, ok := lookup(filePtr)
		if !ok {
			return uint32(sqlite3.MISUSE)
		}
		err := of.file.Truncate(int64(size))
		return uint32(sqlite3.AsErrorCode(err, sqlite3.IOERR_TRUNCATE))
	}
	if _, err := b.install(b.ioHandle, ioOffTruncate, xTruncate); err != nil {
		return err
	}

	// xSync(filePtr, flags uint32) rc uint32
	xSync := func(filePtr, flags uint32) uint32 {
		of, ok := lookup(filePtr)
		if !ok {
			return uint32(sqlite3.MISUSE)
		}
		err := of.file.Sync(vfs.SyncFlag(flags))
		return uint32(sqlite3.AsErrorCode(err, sqlite3.IOERR_FSYNC))
	}
	if _, err := b.install(b.ioHandle, ioOffSync, xSync); err != nil {
		return err
	}

	// xFileSize(filePtr, sizeOutPtr uint32) rc uint32
	xFileSize := func(filePtr, sizeOutPtr uint32) uint32 {
		of, ok := lookup(filePtr)
		if !ok {
			return uint32(sqlite3.MISUSE)
		}
		sz, err := of.file.Size()
		if err != nil {
			return uint32(sqlite3.AsErrorCode(err, sqlite3.IOERR_FSTAT))
		}
		var out [8]byte
		binary.LittleEndian.PutUint64(out[:], uint64(sz))
		b.memMod.Memory().Write(sizeOutPtr, out[:])
		return uint32(sqlite3.OK)
	}
	if _, err := b.install(b.ioHandle, ioOffFileSize, xFileSize); err != nil {
		return err
	}

	xLock := func(filePtr, level uint32) uint32 {
		of, ok := lookup(filePtr)
		if !ok {
			return uint32(sqlite3.MISUSE)
		}
		err := of.file.Lock(vfs.LockLevel(level))
		return uint32(sqlite3.AsErrorCode(err, sqlite3.IOERR_LOCK))
	}
	if _, err := b.install(b.ioHandle, ioOffLock, xLock); err != nil {
		return err
	}

	xUnlock := func(filePtr, level uint32) uint32 {
		of, ok := lookup(filePtr)
		if !ok {
			return uint32(sqlite3.MISUSE)
		}
		err := of.file.Unlock(vfs.LockLevel(level))
		return uint32(sqlite3.AsErrorCode(err, sqlite3.IOERR_LOCK))
	}
	if _, err := b.install(b.ioHandle, ioOffUnlock, xUnlock); err != nil {
		return err
	}

	// xCheckReservedLock(filePtr, resOutPtr uint32) rc uint32
	xCheckReservedLock := func(filePtr, resOutPtr uint32) uint32 {
		of, ok := lookup(filePtr)
		if !ok {
			return uint32(sqlite3.MISUSE)
		}
		reserved, err := of.file.CheckReservedLock()
		if err != nil {
			return uint32(sqlite3.AsErrorCode(err, sqlite3.IOERR_LOCK))
		}
		var out [4]byte
		if reserved {
			out[0] = 1
		}
		b.memMod.Memory().Write(resOutPtr, out[:])
		return uint32(sqlite3.OK)
	}
	if _, err := b.install(b.ioHandle, ioOffCheckReservedLock, xCheckReservedLock); err != nil {
		return err
	}

	// xFileControl(filePtr, op, argPtr, argLen uint32) rc uint32
	xFileControl := func(filePtr, op, argPtr, argLen uint32) uint32 {
		of, ok := lookup(filePtr)
		if !ok {
			return uint32(sqlite3.MISUSE)
		}
		fc, ok := of.file.(vfs.FileControl)
		if !ok {
			return uint32(sqlite3.NOTFOUND)
		}
		arg, ok := b.memMod.Memory().Read(argPtr, argLen)
		if !ok {
			return uint32(sqlite3.MISUSE)
		}
		err := fc.FileControl(vfs.FcntlOpcode(op), arg)
		return uint32(sqlite3.AsErrorCode(err, sqlite3.IOERR))
	}
	if _, err := b.install(b.ioHandle, ioOffFileControl, xFileControl); err != nil {
		return err
	}

	xSectorSize := func(filePtr uint32) uint32 {
		of, ok := lookup(filePtr)
		if !ok {
			return 0
		}
		return uint32(of.file.SectorSize())
	}
	if _, err := b.install(b.ioHandle, ioOffSectorSize, xSectorSize); err != nil {
		return err
	}

	xDeviceCharacteristics := func(filePtr uint32) uint32 {
		of, ok := lookup(filePtr)
		if !ok {
			return 0
		}
		return uint32(of.file.DeviceCharacteristics())
	}
	if _, err := b.install(b.ioHandle, ioOffDeviceCharacteristics, xDeviceCharacteristics); err != nil {
		return err
	}

	return nil
}
