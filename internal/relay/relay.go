// Package relay carries per-user envelopes between processes so a frame
// published on one node reaches devices attached to any other.
package relay

import (
	"context"

	"github.com/matheus3301/courier/internal/event"
)

// Relay publishes envelopes on a per-user topic and hands out per-user
// subscriptions. Backends reconnect on their own; a subscription whose
// channel closes must be re-created by the caller.
type Relay interface {
	Publish(ctx context.Context, userID string, env event.Envelope) error
	Subscribe(ctx context.Context, userID string) (Subscription, error)
	Close() error
}

// Subscription is a live per-user subscription. C is closed when the
// subscription ends, either through Close, context cancellation or the
// backend shutting down.
type Subscription interface {
	C() <-chan event.Envelope
	Close() error
}

// Backend names accepted by the config.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendNATS   = "nats"
)
