package sahpool

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero"

	"github.com/tursodatabase/oosvfs/objectstore/memstore"
	"github.com/tursodatabase/oosvfs/sqlite3"
)

// writeCString writes s plus a NUL terminator into mem at ptr and
// returns its length (without the terminator), for passing as a
// (ptr, len) pair to a bound host function.
func writeCString(t *testing.T, b *Bound, ptr uint32, s string) uint32 {
	t.Helper()
	require.True(t, b.Memory().Write(ptr, append([]byte(s), 0)))
	return uint32(len(s))
}

// TestBindVFSRoundTripThroughWazero drives sahpool's vfs/io_methods
// struct-binder projection end to end: every call below goes through a
// real wazero.Runtime-instantiated host module's exported "call"
// function, exactly as a sandboxed engine module's trampoline would
// invoke it through the function table SetMethod wrote — not a direct
// Go method call on *VFS/*File.
func TestBindVFSRoundTripThroughWazero(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	pool, err := Open(ctx, store, "", 4)
	require.NoError(t, err)
	v := New(pool)

	runtime := wazero.NewRuntime(ctx)
	defer runtime.Close(ctx)

	bound, err := BindVFS(ctx, runtime, v)
	require.NoError(t, err)
	require.NotZero(t, bound.VFSPtr())
	require.NotZero(t, bound.IOMethodsPtr())

	const scratch = 4096 // guest addresses below this are reserved for struct_of's own bookkeeping
	namePtr := uint32(scratch)
	nameLen := writeCString(t, bound, namePtr, "/bound.db")

	xOpen, _, err := vfsMethodIndexes(t, bound)
	require.NoError(t, err)

	res, err := bound.Call(ctx, xOpen, uint64(namePtr), uint64(nameLen), uint64(0x00000106)) // CREATE|READWRITE|MAIN_DB
	require.NoError(t, err)
	require.Len(t, res, 3)
	filePtr, outFlags, rc := uint32(res[0]), uint32(res[1]), uint32(res[2])
	require.Zero(t, rc)
	require.NotZero(t, filePtr)
	require.NotZero(t, outFlags)

	// The file struct's pMethods field must point at the one shared
	// io_methods struct, per real sqlite3_file layout.
	methodsBytes, ok := bound.Memory().Read(filePtr+fileOffMethods, 4)
	require.True(t, ok)
	require.Equal(t, bound.IOMethodsPtr(), binary.LittleEndian.Uint32(methodsBytes))

	xWrite, err := ioMethodIndex(t, bound, ioOffWrite)
	require.NoError(t, err)
	payload := "HELLO!"
	payloadPtr := uint32(scratch + 64)
	require.True(t, bound.Memory().Write(payloadPtr, []byte(payload)))
	res, err = bound.Call(ctx, xWrite, uint64(filePtr), uint64(payloadPtr), uint64(len(payload)), 2)
	require.NoError(t, err)
	require.Zero(t, uint32(res[0]))

	xFileSize, err := ioMethodIndex(t, bound, ioOffFileSize)
	require.NoError(t, err)
	sizeOutPtr := uint32(scratch + 128)
	res, err = bound.Call(ctx, xFileSize, uint64(filePtr), uint64(sizeOutPtr))
	require.NoError(t, err)
	require.Zero(t, uint32(res[0]))
	sizeBytes, ok := bound.Memory().Read(sizeOutPtr, 8)
	require.True(t, ok)
	require.EqualValues(t, 2+len(payload), binary.LittleEndian.Uint64(sizeBytes))

	xRead, err := ioMethodIndex(t, bound, ioOffRead)
	require.NoError(t, err)
	readPtr := uint32(scratch + 256)
	res, err = bound.Call(ctx, xRead, uint64(filePtr), uint64(readPtr), uint64(len(payload)), 2)
	require.NoError(t, err)
	require.Zero(t, uint32(res[0]))
	readBack, ok := bound.Memory().Read(readPtr, uint32(len(payload)))
	require.True(t, ok)
	require.Equal(t, payload, string(readBack))

	xClose, err := ioMethodIndex(t, bound, ioOffClose)
	require.NoError(t, err)
	res, err = bound.Call(ctx, xClose, uint64(filePtr))
	require.NoError(t, err)
	require.Zero(t, uint32(res[0]))

	// After close, the file pointer is no longer live: the call itself
	// still succeeds (it is a real wazero call), but rc reports MISUSE.
	res, err = bound.Call(ctx, xRead, uint64(filePtr), uint64(readPtr), uint64(len(payload)), 2)
	require.NoError(t, err)
	require.Equal(t, uint32(sqlite3.MISUSE), uint32(res[0]))
}

// vfsMethodIndexes reads back the installer indexes SetMethod wrote
// into the bound vfs struct at the xOpen/xDelete offsets — exactly
// what a real engine trampoline would read to find out what to call.
func vfsMethodIndexes(t *testing.T, b *Bound) (xOpen, xDelete uint32, err error) {
	t.Helper()
	xOpen, err = vfsMethodIndexAt(b, vfsOffOpen)
	if err != nil {
		return 0, 0, err
	}
	xDelete, err = vfsMethodIndexAt(b, vfsOffDelete)
	return xOpen, xDelete, err
}

func vfsMethodIndexAt(b *Bound, offset uint32) (uint32, error) {
	raw, ok := b.Memory().Read(b.VFSPtr()+offset, 4)
	if !ok {
		return 0, errBindTestBounds
	}
	return binary.LittleEndian.Uint32(raw), nil
}

func ioMethodIndex(t *testing.T, b *Bound, offset uint32) (uint32, error) {
	t.Helper()
	raw, ok := b.Memory().Read(b.IOMethodsPtr()+offset, 4)
	if !ok {
		return 0, errBindTestBounds
	}
	return binary.LittleEndian.Uint32(raw), nil
}

type bindTestError string

func (e bindTestError) Error() string { return string(e) }

const errBindTestBounds = bindTestError("sahpool: bind test: struct read out of bounds")
