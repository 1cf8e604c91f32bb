// Package fanout delivers a frame to every device of a set of users: the
// ones attached here through the registry, the rest through the relay.
package fanout

import (
	"context"

	"github.com/matheus3301/courier/internal/event"
	"github.com/matheus3301/courier/internal/registry"
	"github.com/matheus3301/courier/internal/relay"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Dispatcher serves local devices first and then publishes an envelope
// tagged with this node's id. Subscribers on the same node skip envelopes
// carrying their own id, so a local device never sees a frame twice.
type Dispatcher struct {
	nodeID   string
	registry *registry.Registry
	relay    relay.Relay
	logger   *zap.Logger
	failures metric.Int64Counter
}

// New creates a dispatcher for the node identified by nodeID.
func New(nodeID string, reg *registry.Registry, rl relay.Relay, logger *zap.Logger) *Dispatcher {
	failures, err := otel.Meter("courier/fanout").Int64Counter(
		"courier.relay.publish_failures",
		metric.WithDescription("Relay publishes that returned an error"),
	)
	if err != nil {
		logger.Warn("publish failure counter unavailable", zap.Error(err))
	}
	return &Dispatcher{
		nodeID:   nodeID,
		registry: reg,
		relay:    rl,
		logger:   logger.Named("fanout"),
		failures: failures,
	}
}

// NodeID returns the id stamped on published envelopes.
func (d *Dispatcher) NodeID() string {
	return d.nodeID
}

// ToUser delivers frame to all devices of userID and returns the number of
// local devices that accepted it. Relay failures are logged, not returned.
func (d *Dispatcher) ToUser(ctx context.Context, userID string, frame event.Frame) int {
	local := d.registry.DeliverToUser(userID, frame)
	env := event.Envelope{Origin: d.nodeID, Frame: frame}
	if err := d.relay.Publish(ctx, userID, env); err != nil {
		d.logger.Warn("relay publish failed",
			zap.String("user", userID), zap.String("type", frame.Type), zap.Error(err))
		if d.failures != nil {
			d.failures.Add(ctx, 1)
		}
	}
	return local
}

// ToUsers calls ToUser once per distinct user.
func (d *Dispatcher) ToUsers(ctx context.Context, userIDs []string, frame event.Frame) int {
	total := 0
	for _, uid := range lo.Uniq(userIDs) {
		total += d.ToUser(ctx, uid, frame)
	}
	return total
}
