package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grouplock/internal/session/models"
)

func receive(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case payload := <-ch:
		return payload
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestMemoryBus_PublishAuthState(t *testing.T) {
	bus := NewMemoryBus()
	ch, cancel := bus.Subscribe(AuthStateTopic("g-1"))
	defer cancel()

	err := bus.PublishAuthState(context.Background(), AuthStateEvent{
		SessionID:          "s-1",
		GroupID:            "g-1",
		Status:             models.StatusActive,
		VerifiedCount:      1,
		RequiredSignatures: 3,
	})
	require.NoError(t, err)

	var event AuthStateEvent
	require.NoError(t, json.Unmarshal(receive(t, ch), &event))
	assert.Equal(t, AuthStateEvent{
		SessionID:          "s-1",
		GroupID:            "g-1",
		Status:             models.StatusActive,
		VerifiedCount:      1,
		RequiredSignatures: 3,
	}, event)
}

func TestMemoryBus_TopicsAreIsolated(t *testing.T) {
	bus := NewMemoryBus()
	one, cancelOne := bus.Subscribe(AuthStateTopic("g-1"))
	defer cancelOne()
	other, cancelOther := bus.Subscribe(AuthStateTopic("g-2"))
	defer cancelOther()

	require.NoError(t, bus.Publish(context.Background(), AuthStateTopic("g-1"), []byte("x")))

	assert.Equal(t, []byte("x"), receive(t, one))
	select {
	case payload := <-other:
		t.Fatalf("unexpected cross-topic delivery: %q", payload)
	default:
	}
}

func TestMemoryBus_FanOut(t *testing.T) {
	bus := NewMemoryBus()
	first, cancelFirst := bus.Subscribe("topic")
	defer cancelFirst()
	second, cancelSecond := bus.Subscribe("topic")
	defer cancelSecond()

	require.NoError(t, bus.Publish(context.Background(), "topic", []byte("x")))

	assert.Equal(t, []byte("x"), receive(t, first))
	assert.Equal(t, []byte("x"), receive(t, second))
}

func TestMemoryBus_CancelStopsDelivery(t *testing.T) {
	bus := NewMemoryBus()
	ch, cancel := bus.Subscribe("topic")
	cancel()

	_, open := <-ch
	assert.False(t, open, "cancel closes the channel")

	// Publishing after cancel reaches nobody and does not panic.
	require.NoError(t, bus.Publish(context.Background(), "topic", []byte("x")))
}

func TestMemoryBus_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	bus := NewMemoryBus()
	ch, cancel := bus.Subscribe("topic")
	defer cancel()

	// Fill the buffer and then some; publishers must never block.
	for i := 0; i < 64; i++ {
		require.NoError(t, bus.Publish(context.Background(), "topic", []byte("x")))
	}

	delivered := 0
	for {
		select {
		case <-ch:
			delivered++
		default:
			assert.Equal(t, 16, delivered, "buffered events kept, overflow dropped")
			return
		}
	}
}
