package relay

import (
	"context"
	"fmt"
	"sync"

	"github.com/matheus3301/courier/internal/event"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultRedisPrefix namespaces relay channels.
const DefaultRedisPrefix = "courier:user:"

// Redis relays envelopes with PUBLISH/SUBSCRIBE on channel <prefix><user>.
type Redis struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedis returns a relay over client. The client is owned by the caller.
func NewRedis(client *redis.Client, prefix string, logger *zap.Logger) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &Redis{client: client, prefix: prefix, logger: logger.Named("relay.redis")}
}

var _ Relay = (*Redis)(nil)

func (r *Redis) Publish(ctx context.Context, userID string, env event.Envelope) error {
	data, err := env.Marshal()
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.prefix+userID, data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (r *Redis) Subscribe(ctx context.Context, userID string) (Subscription, error) {
	channel := r.prefix + userID
	ps := r.client.Subscribe(ctx, channel)
	// Wait for the subscription confirmation so nothing published after
	// Subscribe returns is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", channel, err)
	}

	sub := &redisSub{ps: ps, c: make(chan event.Envelope, 64), done: make(chan struct{})}
	stop := context.AfterFunc(ctx, func() { _ = sub.Close() })
	go func() {
		defer stop()
		defer close(sub.c)
		for msg := range ps.Channel() {
			env, err := event.UnmarshalEnvelope([]byte(msg.Payload))
			if err != nil {
				r.logger.Warn("dropping malformed envelope", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			select {
			case sub.c <- env:
			case <-sub.done:
				return
			}
		}
	}()
	return sub, nil
}

// Close is a no-op; the client is closed by its owner.
func (r *Redis) Close() error {
	return nil
}

type redisSub struct {
	ps   *redis.PubSub
	c    chan event.Envelope
	done chan struct{}
	once sync.Once
	err  error
}

func (s *redisSub) C() <-chan event.Envelope { return s.c }

func (s *redisSub) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.err = s.ps.Close()
	})
	return s.err
}
