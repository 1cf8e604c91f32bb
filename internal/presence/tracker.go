package presence

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Tracker applies the configured TTLs on top of a Store. Store failures are
// logged and never reach the caller: presence is advisory.
type Tracker struct {
	store      Store
	onlineTTL  time.Duration
	offlineTTL time.Duration
	logger     *zap.Logger
}

// NewTracker wraps store. onlineTTL applies to online and away, offlineTTL
// to offline.
func NewTracker(store Store, onlineTTL, offlineTTL time.Duration, logger *zap.Logger) *Tracker {
	return &Tracker{
		store:      store,
		onlineTTL:  onlineTTL,
		offlineTTL: offlineTTL,
		logger:     logger.Named("presence"),
	}
}

// Set records status for userID.
func (t *Tracker) Set(ctx context.Context, userID string, status Status) {
	ttl := t.onlineTTL
	if status == Offline {
		ttl = t.offlineTTL
	}
	if err := t.store.Set(ctx, userID, status, ttl); err != nil {
		t.logger.Warn("set presence failed",
			zap.String("user", userID), zap.String("status", string(status)), zap.Error(err))
	}
}

// Get returns the user's status, Offline when unknown or on failure.
func (t *Tracker) Get(ctx context.Context, userID string) Status {
	st, err := t.store.Get(ctx, userID)
	if err != nil {
		t.logger.Warn("get presence failed", zap.String("user", userID), zap.Error(err))
		return Offline
	}
	return st
}

// RefreshInterval is how often a live session should re-assert presence so
// the entry never expires while the device is connected.
func (t *Tracker) RefreshInterval() time.Duration {
	return t.onlineTTL / 2
}

// Close closes the underlying store.
func (t *Tracker) Close() error {
	return t.store.Close()
}
