package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPubSubDeliversToEverySubscriber(t *testing.T) {
	ps := NewMemoryPubSub()
	defer ps.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := ps.Subscribe(ctx, "chat:relay")
	require.NoError(t, err)
	b, err := ps.Subscribe(ctx, "chat:relay")
	require.NoError(t, err)
	other, err := ps.Subscribe(ctx, "chat:other")
	require.NoError(t, err)

	ev, err := NewEvent("room", "node-1", map[string]string{"k": "v"})
	require.NoError(t, err)
	ev.Room = "channel:c1"
	require.NoError(t, ps.Publish(ctx, "chat:relay", ev))

	for _, ch := range []<-chan *Event{a, b} {
		select {
		case got := <-ch:
			assert.Equal(t, "channel:c1", got.Room)
			assert.Equal(t, "node-1", got.Origin)
			assert.JSONEq(t, `{"k":"v"}`, string(got.Payload))
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}

	select {
	case <-other:
		t.Fatal("event leaked to another topic")
	default:
	}
}

func TestMemoryPubSubClosesOnCancel(t *testing.T) {
	ps := NewMemoryPubSub()
	defer ps.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := ps.Subscribe(ctx, "chat:relay")
	require.NoError(t, err)

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed after cancel")
	}
}
