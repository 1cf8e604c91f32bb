package presence

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	status  Status
	expires time.Time
}

// Memory is a process-local Store.
type Memory struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

// NewMemory returns an empty store. A nil clock means time.Now.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{entries: make(map[string]entry), now: now}
}

var _ Store = (*Memory)(nil)

func (m *Memory) Set(_ context.Context, userID string, status Status, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[userID] = entry{status: status, expires: m.now().Add(ttl)}
	return nil
}

func (m *Memory) Get(_ context.Context, userID string) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[userID]
	if !ok {
		return Offline, nil
	}
	if !m.now().Before(e.expires) {
		delete(m.entries, userID)
		return Offline, nil
	}
	return e.status, nil
}

func (m *Memory) Close() error {
	return nil
}
