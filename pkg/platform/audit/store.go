package audit

import "context"

// Store persists audit events. The publisher appends; query methods on
// concrete stores exist for admin tooling and tests.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// Sink forwards events to an external system. The Kafka sink is the
// production implementation.
type Sink interface {
	Send(ctx context.Context, event Event) error
}

// Emitter is the interface domain services emit through.
type Emitter interface {
	Emit(ctx context.Context, event Event) error
}
