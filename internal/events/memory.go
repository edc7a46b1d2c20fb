package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryBus is an in-process broadcaster for tests and single-node
// development. Subscribers receive payloads on a buffered channel; a slow
// subscriber drops events rather than blocking publishers, matching the
// best-effort contract of the real transport.
type MemoryBus struct {
	mu   sync.RWMutex
	subs map[string][]chan []byte
}

// NewMemoryBus creates an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string][]chan []byte)}
}

// Subscribe registers for a topic. The returned cancel function removes the
// subscription and closes the channel.
func (b *MemoryBus) Subscribe(topic string) (<-chan []byte, func()) {
	ch := make(chan []byte, 16)

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], ch)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[topic]
		for i, sub := range subs {
			if sub == ch {
				b.subs[topic] = append(subs[:i], subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel
}

func (b *MemoryBus) PublishAuthState(ctx context.Context, event AuthStateEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode auth-state event: %w", err)
	}
	return b.Publish(ctx, AuthStateTopic(event.GroupID), payload)
}

func (b *MemoryBus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[topic] {
		select {
		case ch <- payload:
		default:
			// Slow subscriber; drop rather than block the orchestrator.
		}
	}
	return nil
}
