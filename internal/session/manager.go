package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/matheus3301/courier/internal/event"
	"github.com/matheus3301/courier/internal/registry"
	"github.com/matheus3301/courier/internal/relay"
	"go.uber.org/zap"
)

// ErrShuttingDown is returned by Open once Shutdown has started.
var ErrShuttingDown = errors.New("session manager is shutting down")

// Options configures every session a Manager opens.
type Options struct {
	OutboundBuffer     int
	PingInterval       time.Duration
	PresenceRefresh    time.Duration
	ResubscribeBackoff time.Duration
	CleanupTimeout     time.Duration
	// OnStateChange, when set, observes every lifecycle transition.
	OnStateChange func(key registry.Key, from, to State)
}

// DefaultOptions returns the settings used for zero fields.
func DefaultOptions() Options {
	return Options{
		OutboundBuffer:     256,
		PingInterval:       30 * time.Second,
		PresenceRefresh:    time.Minute,
		ResubscribeBackoff: time.Second,
		CleanupTimeout:     5 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.OutboundBuffer <= 0 {
		o.OutboundBuffer = def.OutboundBuffer
	}
	if o.PingInterval <= 0 {
		o.PingInterval = def.PingInterval
	}
	if o.PresenceRefresh <= 0 {
		o.PresenceRefresh = def.PresenceRefresh
	}
	if o.ResubscribeBackoff <= 0 {
		o.ResubscribeBackoff = def.ResubscribeBackoff
	}
	if o.CleanupTimeout <= 0 {
		o.CleanupTimeout = def.CleanupTimeout
	}
	return o
}

// Deps are the shared components every session uses.
type Deps struct {
	NodeID   string
	Registry *registry.Registry
	Relay    relay.Relay
	Convs    Conversations
	Receipts Receipts
	Logger   *zap.Logger
}

// Manager opens sessions and tracks the live ones so they can be closed on
// shutdown.
type Manager struct {
	deps Deps
	opts Options

	mu     sync.Mutex
	live   map[*Session]struct{}
	wg     sync.WaitGroup
	closed bool
}

// NewManager creates a manager.
func NewManager(deps Deps, opts Options) *Manager {
	deps.Logger = deps.Logger.Named("session")
	return &Manager{
		deps: deps,
		opts: opts.withDefaults(),
		live: make(map[*Session]struct{}),
	}
}

// Open prepares a session for key over t. The caller must call Run.
func (m *Manager) Open(key registry.Key, t Transport) (*Session, error) {
	if err := registry.ValidateKey(key); err != nil {
		return nil, err
	}
	logger := m.deps.Logger.With(zap.String("user", key.UserID), zap.String("device", key.DeviceID))
	s := &Session{
		key:       key,
		transport: t,
		out:       make(chan event.Frame, m.opts.OutboundBuffer),
		registry:  m.deps.Registry,
		relay:     m.deps.Relay,
		convs:     m.deps.Convs,
		receipts:  m.deps.Receipts,
		nodeID:    m.deps.NodeID,
		opts:      m.opts,
		logger:    logger,
		ready:     make(chan struct{}),
	}
	hook := m.opts.OnStateChange
	s.machine = newMachine(func(from, to State) {
		logger.Debug("session state", zap.String("from", string(from)), zap.String("to", string(to)))
		if hook != nil {
			hook(key, from, to)
		}
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrShuttingDown
	}
	m.live[s] = struct{}{}
	m.wg.Add(1)
	return s, nil
}

// Serve opens a session and runs it to completion.
func (m *Manager) Serve(ctx context.Context, key registry.Key, t Transport) error {
	s, err := m.Open(key, t)
	if err != nil {
		_ = t.Close()
		return err
	}
	return m.Run(ctx, s)
}

// Run runs a session returned by Open and forgets it afterwards.
func (m *Manager) Run(ctx context.Context, s *Session) error {
	defer func() {
		m.mu.Lock()
		delete(m.live, s)
		m.mu.Unlock()
		m.wg.Done()
	}()
	return s.run(ctx)
}

// Active returns the number of sessions opened and not yet finished.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

// Shutdown refuses new sessions, closes the transport of every live one and
// waits for them to finish or for ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	for s := range m.live {
		_ = s.transport.Close()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
