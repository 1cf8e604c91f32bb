package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces presence keys.
const DefaultRedisPrefix = "courier:presence:"

// Redis stores presence as plain keys with an expiry.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis returns a Store over client. The client is owned by the caller.
func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &Redis{client: client, prefix: prefix}
}

var _ Store = (*Redis)(nil)

func (r *Redis) Set(ctx context.Context, userID string, status Status, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.prefix+userID, string(status), ttl).Err(); err != nil {
		return fmt.Errorf("redis set presence: %w", err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, userID string) (Status, error) {
	res, err := r.client.Get(ctx, r.prefix+userID).Result()
	if errors.Is(err, redis.Nil) {
		return Offline, nil
	}
	if err != nil {
		return Offline, fmt.Errorf("redis get presence: %w", err)
	}
	st, err := ParseStatus(res)
	if err != nil {
		return Offline, err
	}
	return st, nil
}

// Close is a no-op; the client is closed by its owner.
func (r *Redis) Close() error {
	return nil
}
