package relay

import (
	"context"
	"fmt"
	"sync"

	"github.com/matheus3301/courier/internal/event"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// DefaultNATSPrefix namespaces relay subjects.
const DefaultNATSPrefix = "courier.user."

// NATS relays envelopes on core subjects <prefix><user>.
type NATS struct {
	conn   *nats.Conn
	prefix string
	buffer int
	logger *zap.Logger
}

// NewNATS returns a relay over conn. The connection is owned by the caller.
func NewNATS(conn *nats.Conn, prefix string, logger *zap.Logger) *NATS {
	if prefix == "" {
		prefix = DefaultNATSPrefix
	}
	return &NATS{conn: conn, prefix: prefix, buffer: 64, logger: logger.Named("relay.nats")}
}

var _ Relay = (*NATS)(nil)

func (n *NATS) Publish(_ context.Context, userID string, env event.Envelope) error {
	data, err := env.Marshal()
	if err != nil {
		return err
	}
	if err := n.conn.Publish(n.prefix+userID, data); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

func (n *NATS) Subscribe(ctx context.Context, userID string) (Subscription, error) {
	sub := &natsSub{c: make(chan event.Envelope, n.buffer)}
	subject := n.prefix + userID
	ns, err := n.conn.Subscribe(subject, func(msg *nats.Msg) {
		env, err := event.UnmarshalEnvelope(msg.Data)
		if err != nil {
			n.logger.Warn("dropping malformed envelope", zap.String("subject", msg.Subject), zap.Error(err))
			return
		}
		sub.deliver(env)
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", subject, err)
	}
	// Make sure the server knows about the interest before returning.
	if err := n.conn.Flush(); err != nil {
		_ = ns.Unsubscribe()
		return nil, fmt.Errorf("nats flush: %w", err)
	}
	sub.sub = ns
	sub.stop = context.AfterFunc(ctx, func() { _ = sub.Close() })
	return sub, nil
}

// Close is a no-op; the connection is closed by its owner.
func (n *NATS) Close() error {
	return nil
}

type natsSub struct {
	sub    *nats.Subscription
	stop   func() bool
	mu     sync.Mutex
	closed bool
	c      chan event.Envelope
}

func (s *natsSub) C() <-chan event.Envelope { return s.c }

func (s *natsSub) deliver(env event.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.c <- env:
	default:
		// Drop if the session is not keeping up.
	}
}

func (s *natsSub) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.c)
	s.mu.Unlock()
	if s.stop != nil {
		s.stop()
	}
	return s.sub.Unsubscribe()
}
