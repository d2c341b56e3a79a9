// Package sanity implements the self-test harness of spec §2: a single
// sequence exercising access/open/sync/truncate/size/write/read/sleep/
// close/delete against any vfs.VFS, shared by both strategies instead of
// each one growing its own ad hoc smoke test — matching the teacher's
// own style of exercising an arbitrary named VFS through one shared
// test body (vfs/ordmap/example_test.go, vfs/ordmap-mvcc/benchmark_test.go).
package sanity

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tursodatabase/oosvfs/vfs"
)

// Check runs the spec §2/§6.3 "opfs-sanity-check" self-test against v,
// using name as the scratch database path. It fails tb on the first
// unmet expectation.
func Check(tb testing.TB, v vfs.VFS, name string) {
	tb.Helper()

	exists, err := v.Access(name, vfs.ACCESS_EXISTS)
	require.NoError(tb, err)
	require.False(tb, exists, "sanity: scratch path must not already exist")

	f, outFlags, err := v.Open(name, vfs.OPEN_CREATE|vfs.OPEN_READWRITE|vfs.OPEN_MAIN_DB)
	require.NoError(tb, err)
	require.NotZero(tb, outFlags&vfs.OPEN_READWRITE)
	defer f.Close()

	err = f.Truncate(0)
	require.NoError(tb, err)
	sz, err := f.Size()
	require.NoError(tb, err)
	require.Zero(tb, sz)

	payload := []byte("HELLO!")
	n, err := f.WriteAt(payload, 2)
	require.NoError(tb, err)
	require.Equal(tb, len(payload), n)

	sz, err = f.Size()
	require.NoError(tb, err)
	require.Equal(tb, int64(2+len(payload)), sz)

	buf := make([]byte, len(payload))
	n, err = f.ReadAt(buf, 2)
	require.NoError(tb, err)
	require.Equal(tb, len(payload), n)
	require.Equal(tb, payload, buf)

	require.NoError(tb, f.Sync(vfs.SYNC_NORMAL))

	if s, ok := v.(vfs.Sleeper); ok {
		require.NoError(tb, s.Sleep(0))
	}

	require.NoError(tb, f.Close())

	exists, err = v.Access(name, vfs.ACCESS_EXISTS)
	require.NoError(tb, err)
	require.True(tb, exists)

	require.NoError(tb, v.Delete(name, false))

	exists, err = v.Access(name, vfs.ACCESS_EXISTS)
	require.NoError(tb, err)
	require.False(tb, exists)
}
