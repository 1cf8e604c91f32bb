package relay

import (
	"context"
	"sync"
	"time"

	"github.com/matheus3301/courier/internal/bus"
	"github.com/matheus3301/courier/internal/event"
)

const memoryTopicPrefix = "user."

// Memory is a relay backed by an in-process bus. Any number of nodes built
// on the same bus behave like processes sharing a broker.
type Memory struct {
	bus    *bus.Bus
	buffer int
}

// NewMemory returns a relay on b. buffer bounds each subscription.
func NewMemory(b *bus.Bus, buffer int) *Memory {
	if buffer <= 0 {
		buffer = 64
	}
	return &Memory{bus: b, buffer: buffer}
}

var _ Relay = (*Memory)(nil)

func (m *Memory) Publish(_ context.Context, userID string, env event.Envelope) error {
	m.bus.Publish(bus.Event{Topic: memoryTopicPrefix + userID, Timestamp: time.Now(), Payload: env})
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, userID string) (Subscription, error) {
	events, unsub := m.bus.Subscribe(memoryTopicPrefix+userID, m.buffer)
	sub := &memorySub{
		c:     make(chan event.Envelope, m.buffer),
		done:  make(chan struct{}),
		unsub: unsub,
	}
	stop := context.AfterFunc(ctx, func() { _ = sub.Close() })
	go func() {
		defer stop()
		defer close(sub.c)
		for evt := range events {
			env, ok := evt.Payload.(event.Envelope)
			if !ok {
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

// Close ends every subscription on the underlying bus.
func (m *Memory) Close() error {
	m.bus.Close()
	return nil
}

type memorySub struct {
	c     chan event.Envelope
	done  chan struct{}
	once  sync.Once
	unsub func()
}

func (s *memorySub) C() <-chan event.Envelope { return s.c }

func (s *memorySub) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.unsub()
	})
	return nil
}
