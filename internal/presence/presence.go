// Package presence stores each user's status with an expiry so a crashed
// process cannot leave a user online forever.
package presence

import (
	"context"
	"fmt"
	"time"
)

// Status is a user's advertised availability.
type Status string

const (
	Online  Status = "online"
	Away    Status = "away"
	Offline Status = "offline"
)

// ParseStatus validates a client supplied status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case Online, Away, Offline:
		return st, nil
	default:
		return "", fmt.Errorf("unknown presence status %q", s)
	}
}

// Store keeps user -> status with a time to live. Get reports Offline for a
// missing or expired entry.
type Store interface {
	Set(ctx context.Context, userID string, status Status, ttl time.Duration) error
	Get(ctx context.Context, userID string) (Status, error)
	Close() error
}

// Backend names accepted by the config.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)
