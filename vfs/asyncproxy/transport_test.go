package asyncproxy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWaitForChangeObservesConcurrentStore(t *testing.T) {
	state := newSharedState()

	go func() {
		time.Sleep(2 * spinInterval)
		state.whichOp.Store(7)
	}()

	got := state.next()
	require.EqualValues(t, 7, got)
}

func TestCallRoundTripsWithMirroredWorker(t *testing.T) {
	state := newSharedState()

	go func() {
		op := state.next()
		require.EqualValues(t, 42, op)
		state.respond(5)
	}()

	rc := state.call(42)
	require.EqualValues(t, 5, rc)
}

func TestCallSequenceIsOrdered(t *testing.T) {
	state := newSharedState()
	var seen []int32

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 3; i++ {
			op := state.next()
			seen = append(seen, op)
			state.respond(0)
		}
	}()

	for i := int32(1); i <= 3; i++ {
		rc := state.call(i)
		require.EqualValues(t, 0, rc)
	}
	<-done
	require.Equal(t, []int32{1, 2, 3}, seen)
}
