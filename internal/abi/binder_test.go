package abi

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeMemory struct {
	buf []byte
}

func newFakeMemory(size int) *fakeMemory { return &fakeMemory{buf: make([]byte, size)} }

func (m *fakeMemory) Read(offset, byteCount uint32) ([]byte, bool) {
	if uint64(offset)+uint64(byteCount) > uint64(len(m.buf)) {
		return nil, false
	}
	return m.buf[offset : offset+byteCount], true
}

func (m *fakeMemory) Write(offset uint32, v []byte) bool {
	if uint64(offset)+uint64(len(v)) > uint64(len(m.buf)) {
		return false
	}
	copy(m.buf[offset:], v)
	return true
}

type bumpAllocator struct {
	mem  *fakeMemory
	next uint32
	freed map[uint32]bool
}

func newBumpAllocator(mem *fakeMemory) *bumpAllocator {
	return &bumpAllocator{mem: mem, next: 8, freed: map[uint32]bool{}}
}

func (a *bumpAllocator) Alloc(_ context.Context, size uint32) (uint32, error) {
	ptr := a.next
	a.next += size
	return ptr, nil
}

func (a *bumpAllocator) Free(_ context.Context, ptr uint32) {
	a.freed[ptr] = true
}

type fakeInstaller struct {
	installed   map[uint32]any
	uninstalled map[uint32]bool
	next        uint32
}

func newFakeInstaller() *fakeInstaller {
	return &fakeInstaller{installed: map[uint32]any{}, uninstalled: map[uint32]bool{}}
}

func (f *fakeInstaller) Install(fn any) (uint32, error) {
	f.next++
	f.installed[f.next] = fn
	return f.next, nil
}

func (f *fakeInstaller) Uninstall(index uint32) error {
	f.uninstalled[index] = true
	return nil
}

func (f *fakeInstaller) ValidIndex(index uint32) bool {
	_, ok := f.installed[index]
	return ok && !f.uninstalled[index]
}

func TestStructOfAllocatesZeroed(t *testing.T) {
	mem := newFakeMemory(256)
	alloc := newBumpAllocator(mem)
	installer := newFakeInstaller()

	h, err := StructOf(context.Background(), mem, alloc, installer, KindFile, 0)
	require.NoError(t, err)
	require.NotZero(t, h.Ptr())

	b, ok := mem.Read(h.Ptr(), layoutSize[KindFile])
	require.True(t, ok)
	for _, v := range b {
		require.Zero(t, v)
	}
}

func TestStructOfWrapsExistingPointer(t *testing.T) {
	mem := newFakeMemory(256)
	alloc := newBumpAllocator(mem)
	installer := newFakeInstaller()

	h, err := StructOf(context.Background(), mem, alloc, installer, KindVFS, 100)
	require.NoError(t, err)
	require.EqualValues(t, 100, h.Ptr())

	h.Dispose()
	require.False(t, alloc.freed[100], "wrapping an existing pointer must never free it")
}

func TestSetMethodInstallsAndUninstallsOnDispose(t *testing.T) {
	mem := newFakeMemory(256)
	alloc := newBumpAllocator(mem)
	installer := newFakeInstaller()

	h, err := StructOf(context.Background(), mem, alloc, installer, KindIOMethods, 0)
	require.NoError(t, err)

	err = h.SetMethod(0, func() {})
	require.NoError(t, err)

	raw, ok := mem.Read(h.Ptr(), 4)
	require.True(t, ok)
	index := uint32(raw[0]) | uint32(raw[1])<<8 | uint32(raw[2])<<16 | uint32(raw[3])<<24
	require.True(t, installer.ValidIndex(index))

	h.Dispose()
	require.True(t, installer.uninstalled[index])

	// Dispose is idempotent.
	h.Dispose()
}

func TestSetMethodNullIndexInstallsNothing(t *testing.T) {
	mem := newFakeMemory(256)
	alloc := newBumpAllocator(mem)
	installer := newFakeInstaller()

	h, err := StructOf(context.Background(), mem, alloc, installer, KindIOMethods, 0)
	require.NoError(t, err)

	require.NoError(t, h.SetMethod(0, uint32(0)))
	require.Empty(t, installer.installed)
}

func TestSetMethodRejectsUnknownRawIndex(t *testing.T) {
	mem := newFakeMemory(256)
	alloc := newBumpAllocator(mem)
	installer := newFakeInstaller()

	h, err := StructOf(context.Background(), mem, alloc, installer, KindIOMethods, 0)
	require.NoError(t, err)

	err = h.SetMethod(0, uint32(999))
	require.Error(t, err)
}

func TestDisposeRunsCleanupsLIFO(t *testing.T) {
	mem := newFakeMemory(256)
	alloc := newBumpAllocator(mem)
	installer := newFakeInstaller()

	h, err := StructOf(context.Background(), mem, alloc, installer, KindVFS, 0)
	require.NoError(t, err)

	var order []int
	h.cleanups = append(h.cleanups, func() { order = append(order, 1) })
	h.cleanups = append(h.cleanups, func() { order = append(order, 2) })

	h.Dispose()
	require.Equal(t, []int{2, 1}, order)
}
