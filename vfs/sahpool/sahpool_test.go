package sahpool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tursodatabase/oosvfs/internal/sanity"
	"github.com/tursodatabase/oosvfs/objectstore/memstore"
	"github.com/tursodatabase/oosvfs/vfs"
)

func newTestPool(t *testing.T, capacity int) *Pool {
	t.Helper()
	store := memstore.New()
	pool, err := Open(context.Background(), store, "", capacity)
	require.NoError(t, err)
	return pool
}

func TestFreshInitDefaultCapacity(t *testing.T) {
	pool := newTestPool(t, 0)
	require.Equal(t, DefaultCapacity, pool.Capacity())
	require.Zero(t, pool.FileCount())
}

func TestCreateReadDelete(t *testing.T) {
	pool := newTestPool(t, 6)
	v := New(pool)

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
	require.Zero(t, pool.FileCount())
}

func TestDeleteOnCloseReclaimsSlot(t *testing.T) {
	pool := newTestPool(t, 6)
	v := New(pool)

	f, _, err := v.Open("/j", vfs.OPEN_CREATE|vfs.OPEN_READWRITE|vfs.OPEN_MAIN_JOURNAL|vfs.OPEN_DELETEONCLOSE)
	require.NoError(t, err)

	_, err = f.WriteAt([]byte("X"), 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	exists, err := v.Access("/j", vfs.ACCESS_EXISTS)
	require.NoError(t, err)
	require.False(t, exists)
	require.Equal(t, 6, pool.Capacity())
	require.Zero(t, pool.FileCount())
}

func TestPoolFullReturnsCantopen(t *testing.T) {
	pool := newTestPool(t, 6)
	v := New(pool)

	var opened []vfs.File
	for i := 0; i < 6; i++ {
		f, _, err := v.Open(string(rune('a'+i))+".db", vfs.OPEN_CREATE|vfs.OPEN_READWRITE|vfs.OPEN_MAIN_DB)
		require.NoError(t, err)
		opened = append(opened, f)
	}

	_, _, err := v.Open("/seventh.db", vfs.OPEN_CREATE|vfs.OPEN_READWRITE|vfs.OPEN_MAIN_DB)
	require.Error(t, err)

	var buf [64]byte
	n, _ := pool.GetLastError(buf[:])
	require.Contains(t, string(buf[:n]), "pool")

	for _, f := range opened {
		f.Close()
	}
}

func TestDigestCorruptionRecoveredOnReopen(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	pool, err := Open(ctx, store, "", 6)
	require.NoError(t, err)
	v := New(pool)

	f, _, err := v.Open("/a.db", vfs.OPEN_CREATE|vfs.OPEN_READWRITE|vfs.OPEN_MAIN_DB)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, pool.Close())

	// Corrupt the slot's header directly through the store, simulating a
	// torn write before the next process re-opens the pool.
	h, err := store.AcquireSync(ctx, ".sqlite3-opfs-sahpool/"+mustSlotName(t, store, ctx), false)
	require.NoError(t, err)
	var b [1]byte
	h.ReadAt(b[:], 5)
	b[0] ^= 0xFF
	_, err = h.WriteAt(b[:], 5)
	require.NoError(t, err)
	require.NoError(t, h.Close())

	pool2, err := Open(ctx, store, "", 6)
	require.NoError(t, err)
	require.Equal(t, 6, pool2.Capacity())
	require.Zero(t, pool2.FileCount())
}

func mustSlotName(t *testing.T, store interface {
	List(context.Context, string) ([]string, error)
}, ctx context.Context) string {
	t.Helper()
	names, err := store.List(ctx, ".sqlite3-opfs-sahpool")
	require.NoError(t, err)
	require.NotEmpty(t, names)
	return names[0]
}

func TestStaleFlagsDissociatedOnReopen(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	pool, err := Open(ctx, store, "", 6)
	require.NoError(t, err)
	v := New(pool)

	f, _, err := v.Open("/j", vfs.OPEN_CREATE|vfs.OPEN_READWRITE|vfs.OPEN_MAIN_JOURNAL|vfs.OPEN_DELETEONCLOSE)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte("leftover-journal-bytes"), 0)
	require.NoError(t, err)
	// No f.Close(): simulate a crash before dissociate ever runs. The
	// slot's on-disk header still carries DELETEONCLOSE and path "/j",
	// and its data region still holds the write above.

	pool2, err := Open(ctx, store, "", 6)
	require.NoError(t, err)
	require.Equal(t, 6, pool2.Capacity())
	require.Zero(t, pool2.FileCount(), "the stale slot must be dissociated, not just reclassified as free")

	// Every slot must now be genuinely clean: exhaust the whole pool and
	// confirm none of them hand back the crashed journal's leftover bytes.
	v2 := New(pool2)
	for i := 0; i < 6; i++ {
		name := string(rune('a'+i)) + ".db"
		nf, _, err := v2.Open(name, vfs.OPEN_CREATE|vfs.OPEN_READWRITE|vfs.OPEN_MAIN_DB)
		require.NoError(t, err)
		sz, err := nf.Size()
		require.NoError(t, err)
		require.Zero(t, sz, "slot %q must not leak a crashed file's data region", name)
		require.NoError(t, nf.Close())
	}
}

func TestShortReadZeroFillsTail(t *testing.T) {
	pool := newTestPool(t, 6)
	v := New(pool)

	f, _, err := v.Open("/s.db", vfs.OPEN_CREATE|vfs.OPEN_READWRITE|vfs.OPEN_MAIN_DB)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.WriteAt([]byte("0123456789"), 0)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(10))

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

func TestSanityHarness(t *testing.T) {
	pool := newTestPool(t, 6)
	v := New(pool)
	sanity.Check(t, v, "/sanity.db")
}

func TestAddAndReduceCapacity(t *testing.T) {
	pool := newTestPool(t, 6)
	require.NoError(t, pool.AddCapacity(context.Background(), 2))
	require.Equal(t, 8, pool.Capacity())

	removed, err := pool.ReduceCapacity(context.Background(), 3)
	require.NoError(t, err)
	require.Equal(t, 3, removed)
	require.Equal(t, 5, pool.Capacity())
}

func TestReduceCapacityNeverTouchesAssociated(t *testing.T) {
	pool := newTestPool(t, 2)
	v := New(pool)

	f, _, err := v.Open("/a.db", vfs.OPEN_CREATE|vfs.OPEN_READWRITE|vfs.OPEN_MAIN_DB)
	require.NoError(t, err)
	defer f.Close()

	removed, err := pool.ReduceCapacity(context.Background(), 5)
	require.NoError(t, err)
	require.Equal(t, 1, removed) // only the one free slot
	require.Equal(t, 1, pool.Capacity())
	require.Equal(t, 1, pool.FileCount())
}

func TestImportExportRoundTrip(t *testing.T) {
	pool := newTestPool(t, 6)
	data := []byte("some database bytes")

	require.NoError(t, pool.ImportDB("/imported.db", data))
	out, err := pool.ExportDB("/imported.db")
	require.NoError(t, err)
	require.Equal(t, data, out)

	require.NoError(t, pool.Unlink("/imported.db"))
	require.False(t, pool.Access("/imported.db"))
}
