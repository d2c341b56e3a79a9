package sahpool

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tursodatabase/oosvfs/vfs"
)

func TestHeaderRoundTrip(t *testing.T) {
	raw, err := buildHeader("/t.db", vfs.OPEN_MAIN_DB|vfs.OPEN_CREATE)
	require.NoError(t, err)

	dec := decodeHeader(raw[:])
	require.Equal(t, stateAssociated, dec.state)
	require.Equal(t, "/t.db", dec.path)
	require.Equal(t, vfs.OPEN_MAIN_DB|vfs.OPEN_CREATE, dec.flags)
}

func TestHeaderRewriteIsIdempotent(t *testing.T) {
	raw1, err := buildHeader("/a.db", vfs.OPEN_MAIN_DB)
	require.NoError(t, err)
	raw2, err := buildHeader("/a.db", vfs.OPEN_MAIN_DB)
	require.NoError(t, err)
	require.Equal(t, raw1, raw2)
}

func TestHeaderUnassociatedEmptyPath(t *testing.T) {
	raw, err := buildHeader("", 0)
	require.NoError(t, err)

	dec := decodeHeader(raw[:])
	require.Equal(t, stateUnassociated, dec.state)
}

func TestHeaderPathTooLongRejected(t *testing.T) {
	path := strings.Repeat("x", headerPathSize) // exactly 512 bytes
	_, err := encodeHeader(path, 0)
	require.Error(t, err)
}

func TestHeaderPathJustUnderLimitAccepted(t *testing.T) {
	path := strings.Repeat("x", headerPathSize-1)
	_, err := encodeHeader(path, 0)
	require.NoError(t, err)
}

func TestHeaderCorruptionDetected(t *testing.T) {
	raw, err := buildHeader("/t.db", vfs.OPEN_MAIN_DB)
	require.NoError(t, err)

	raw[5] ^= 0xFF // flip a byte in the path area
	dec := decodeHeader(raw[:])
	require.Equal(t, stateCorrupt, dec.state)
}

func TestHeaderDeleteOnCloseTreatedAsStaleFlags(t *testing.T) {
	raw, err := buildHeader("/j", vfs.OPEN_DELETEONCLOSE|vfs.OPEN_MAIN_DB)
	require.NoError(t, err)

	dec := decodeHeader(raw[:])
	require.Equal(t, stateStaleFlags, dec.state)
	require.Equal(t, "/j", dec.path, "the on-disk path must still be reported so the caller can dissociate it")
}

func TestHeaderNoPersistentBitsTreatedAsStaleFlags(t *testing.T) {
	raw, err := buildHeader("/j", vfs.OPEN_READWRITE) // no persistent bits
	require.NoError(t, err)

	dec := decodeHeader(raw[:])
	require.Equal(t, stateStaleFlags, dec.state)
	require.Equal(t, "/j", dec.path)
}
