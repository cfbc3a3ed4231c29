package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeFiltersByType(t *testing.T) {
	t.Parallel()
	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	only, unsubOnly := b.Subscribe(4, "relay.delivery")
	defer unsubOnly()

	b.Publish(Event{Type: "relay.delivery", Data: 1})
	b.Publish(Event{Type: "other"})

	require.Len(t, all, 2)
	require.Len(t, only, 1)
	ev := <-only
	assert.Equal(t, "relay.delivery", ev.Type)
	assert.Equal(t, 1, ev.Data)
	assert.False(t, ev.Time.IsZero())
}

func TestPublishNeverBlocks(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	for i := 0; i < 5; i++ {
		b.Publish(Event{Type: "x"})
	}
	assert.Len(t, ch, 1)
	assert.Equal(t, uint64(4), b.Dropped())
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()

	_, ok := <-ch
	assert.False(t, ok)
	// Publishing with no subscribers is a no-op.
	b.Publish(Event{Type: "x"})
	assert.Zero(t, b.Dropped())
}
