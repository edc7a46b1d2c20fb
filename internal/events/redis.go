package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBroadcaster publishes group events over Redis Pub/Sub so every API
// instance's WebSocket layer sees the same stream. Publishes are retried
// with backoff; a publish that still fails is logged and dropped, since a
// missed event is always recoverable via the access-check query.
type RedisBroadcaster struct {
	client   *redis.Client
	logger   *slog.Logger
	attempts int
	backoff  time.Duration
	onError  func()
}

// RedisOption configures a RedisBroadcaster.
type RedisOption func(*RedisBroadcaster)

// WithRetry overrides the publish retry policy.
func WithRetry(attempts int, backoff time.Duration) RedisOption {
	return func(b *RedisBroadcaster) {
		if attempts > 0 {
			b.attempts = attempts
		}
		if backoff > 0 {
			b.backoff = backoff
		}
	}
}

// WithErrorHook registers a callback invoked when a publish is dropped after
// all retries (metrics).
func WithErrorHook(hook func()) RedisOption {
	return func(b *RedisBroadcaster) {
		b.onError = hook
	}
}

// NewRedisBroadcaster constructs a Redis-backed broadcaster.
func NewRedisBroadcaster(client *redis.Client, logger *slog.Logger, opts ...RedisOption) *RedisBroadcaster {
	b := &RedisBroadcaster{
		client:   client,
		logger:   logger,
		attempts: 3,
		backoff:  100 * time.Millisecond,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *RedisBroadcaster) PublishAuthState(ctx context.Context, event AuthStateEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode auth-state event: %w", err)
	}
	return b.Publish(ctx, AuthStateTopic(event.GroupID), payload)
}

func (b *RedisBroadcaster) Publish(ctx context.Context, topic string, payload []byte) error {
	var lastErr error
	backoff := b.backoff
	for attempt := 0; attempt < b.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		if lastErr = b.client.Publish(ctx, topic, payload).Err(); lastErr == nil {
			return nil
		}
	}

	// Best-effort transport: log and drop. Clients recover via explicit
	// access-check queries.
	b.logger.WarnContext(ctx, "dropping broadcast after retries",
		"topic", topic,
		"error", lastErr,
	)
	if b.onError != nil {
		b.onError()
	}
	return nil
}

// Subscribe returns a go-redis subscription for a topic. The WebSocket
// gateway consumes this to bridge events to STOMP/SockJS clients.
func (b *RedisBroadcaster) Subscribe(ctx context.Context, topics ...string) *redis.PubSub {
	return b.client.Subscribe(ctx, topics...)
}
