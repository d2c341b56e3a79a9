package asyncproxy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tursodatabase/oosvfs/internal/sanity"
	"github.com/tursodatabase/oosvfs/objectstore/memstore"
	"github.com/tursodatabase/oosvfs/vfs"
)

func newTestVFS(t *testing.T) *VFS {
	t.Helper()
	store := memstore.New()
	v := New(context.Background(), store)
	t.Cleanup(func() { v.Close() })
	return v
}

func TestSanityHarness(t *testing.T) {
	v := newTestVFS(t)
	sanity.Check(t, v, "/sanity.db")
}

func TestCreateWriteReadDelete(t *testing.T) {
	v := newTestVFS(t)

	f, _, err := v.Open("/t.db", vfs.OPEN_CREATE|vfs.OPEN_READWRITE|vfs.OPEN_MAIN_DB)
	require.NoError(t, err)

	_, err = f.WriteAt([]byte("HELLO!"), 2)
	require.NoError(t, err)

	buf := make([]byte, 6)
	n, err := f.ReadAt(buf, 2)
	require.NoError(t, err)
	require.Equal(t, 6, n)
	require.Equal(t, "HELLO!", string(buf))
	require.NoError(t, f.Close())

	exists, err := v.Access("/t.db", vfs.ACCESS_EXISTS)
	require.NoError(t, err)
	require.True(t, exists)

	require.NoError(t, v.Delete("/t.db", false))

	exists, err = v.Access("/t.db", vfs.ACCESS_EXISTS)
	require.NoError(t, err)
	require.False(t, exists)
}

func TestOpenWithoutCreateFailsOnMissingFile(t *testing.T) {
	v := newTestVFS(t)
	_, _, err := v.Open("/missing.db", vfs.OPEN_READWRITE|vfs.OPEN_MAIN_DB)
	require.Error(t, err)
}

func TestShortReadZeroFillsTail(t *testing.T) {
	v := newTestVFS(t)

	f, _, err := v.Open("/s.db", vfs.OPEN_CREATE|vfs.OPEN_READWRITE|vfs.OPEN_MAIN_DB)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.WriteAt([]byte("0123456789"), 0)
	require.NoError(t, err)

	buf := make([]byte, 16)
	for i := range buf {
		buf[i] = 0xAA
	}
	_, err = f.ReadAt(buf, 0)
	require.Error(t, err)
	require.Equal(t, "0123456789", string(buf[:10]))
	for _, b := range buf[10:] {
		require.Zero(t, b)
	}
}

func TestUnlockAsapParsedFromURI(t *testing.T) {
	require.True(t, unlockAsapFromURI("/t.db?opfs-unlock-asap=1"))
	require.False(t, unlockAsapFromURI("/t.db"))
	require.False(t, unlockAsapFromURI("/t.db?opfs-unlock-asap=0"))
}

func TestMultipleFilesIndependentIDs(t *testing.T) {
	v := newTestVFS(t)

	fa, _, err := v.Open("/a.db", vfs.OPEN_CREATE|vfs.OPEN_READWRITE|vfs.OPEN_MAIN_DB)
	require.NoError(t, err)
	fb, _, err := v.Open("/b.db", vfs.OPEN_CREATE|vfs.OPEN_READWRITE|vfs.OPEN_MAIN_DB)
	require.NoError(t, err)

	_, err = fa.WriteAt([]byte("AAA"), 0)
	require.NoError(t, err)
	_, err = fb.WriteAt([]byte("BBB"), 0)
	require.NoError(t, err)

	bufA := make([]byte, 3)
	_, err = fa.ReadAt(bufA, 0)
	require.NoError(t, err)
	require.Equal(t, "AAA", string(bufA))

	bufB := make([]byte, 3)
	_, err = fb.ReadAt(bufB, 0)
	require.NoError(t, err)
	require.Equal(t, "BBB", string(bufB))

	require.NoError(t, fa.Close())
	require.NoError(t, fb.Close())
}

func TestInstallerCachesTerminalOutcome(t *testing.T) {
	var installer Installer
	store := memstore.New()

	v1, err := installer.Install(context.Background(), "opfs-test", store)
	require.NoError(t, err)

	v2, err := installer.Install(context.Background(), "opfs-test", store)
	require.NoError(t, err)
	require.Same(t, v1, v2)

	require.Same(t, v1, vfs.Find("opfs-test"))
	v1.Close()
}
