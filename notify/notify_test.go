package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeAndBroadcast(t *testing.T) {
	bc := NewBroadcaster[uint64](4)
	defer bc.Close()

	_, ch1 := bc.Subscribe()
	_, ch2 := bc.Subscribe()
	assert.Equal(t, 2, bc.Len())

	bc.Broadcast(7)
	assert.Equal(t, uint64(7), <-ch1)
	assert.Equal(t, uint64(7), <-ch2)
}

func TestUnsubscribe(t *testing.T) {
	bc := NewBroadcaster[int](1)
	defer bc.Close()

	tok, ch := bc.Subscribe()
	bc.Unsubscribe(tok)
	assert.Equal(t, 0, bc.Len())

	// Unsubscribing closes the channel.
	_, open := <-ch
	assert.False(t, open)

	// Unknown tokens are a no-op.
	bc.Unsubscribe(tok)
}

func TestSlowSubscriberPruned(t *testing.T) {
	bc := NewBroadcaster[int](1)
	defer bc.Close()

	_, slow := bc.Subscribe()

	bc.Broadcast(1)
	bc.Broadcast(2) // buffer full: subscriber is dropped, not blocked
	assert.Equal(t, 0, bc.Len())

	v, open := <-slow
	require.True(t, open)
	assert.Equal(t, 1, v)
	_, open = <-slow
	assert.False(t, open)
}

func TestClosedBroadcaster(t *testing.T) {
	bc := NewBroadcaster[int](1)

	_, ch := bc.Subscribe()
	bc.Close()

	_, open := <-ch
	assert.False(t, open)

	// Subscribing after close yields a closed channel.
	_, late := bc.Subscribe()
	_, open = <-late
	assert.False(t, open)

	// Broadcast after close is a no-op.
	bc.Broadcast(1)
	bc.Close()
}
