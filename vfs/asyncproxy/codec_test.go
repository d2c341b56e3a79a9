package asyncproxy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCodecRoundTrip(t *testing.T) {
	buf := make([]byte, s11nBlockSize)
	n, err := encodeArgs(buf, str("/a.db"), bigint(42), boolean(true), number(3.5))
	require.NoError(t, err)
	require.Greater(t, n, 0)

	args, err := decodeArgs(buf)
	require.NoError(t, err)
	require.Len(t, args, 4)
	require.Equal(t, "/a.db", args[0].asString())
	require.Equal(t, int64(42), args[1].asInt64())
	require.True(t, args[2].asBool())
	require.Equal(t, 3.5, args[3].asFloat64())
}

func TestCodecZeroArgsClearsBlock(t *testing.T) {
	buf := make([]byte, s11nBlockSize)
	for i := range buf {
		buf[i] = 0xAA
	}
	n, err := encodeArgs(buf)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, byte(0), buf[0])

	args, err := decodeArgs(buf)
	require.NoError(t, err)
	require.Empty(t, args)
}

func TestCodecOverflowRejected(t *testing.T) {
	buf := make([]byte, 4)
	_, err := encodeArgs(buf, str("this string does not fit in four bytes"))
	require.Error(t, err)
}

func TestCodecTruncatedBufferRejected(t *testing.T) {
	buf := make([]byte, s11nBlockSize)
	_, err := encodeArgs(buf, bigint(7))
	require.NoError(t, err)

	_, err = decodeArgs(buf[:2])
	require.Error(t, err)
}

func TestCodecBooleanRoundTrip(t *testing.T) {
	buf := make([]byte, s11nBlockSize)
	_, err := encodeArgs(buf, boolean(false), boolean(true))
	require.NoError(t, err)

	args, err := decodeArgs(buf)
	require.NoError(t, err)
	require.False(t, args[0].asBool())
	require.True(t, args[1].asBool())
}
