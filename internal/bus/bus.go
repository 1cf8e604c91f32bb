package bus

import (
	"sync"
)

// Bus is an in-process publish/subscribe event bus keyed by exact topic.
type Bus struct {
	mu     sync.RWMutex
	topics map[string]map[int]chan Event
	next   int
	closed bool
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		topics: make(map[string]map[int]chan Event),
	}
}

// Publish sends an event to every subscriber of evt.Topic and returns how
// many received it. A subscriber whose buffer is full misses the event.
func (b *Bus) Publish(evt Event) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, ch := range b.topics[evt.Topic] {
		select {
		case ch <- evt:
			n++
		default:
			// Drop event if subscriber is full (non-blocking).
		}
	}
	return n
}

// Subscribe returns a channel that receives events published on topic.
// bufSize controls the channel buffer. The returned function unsubscribes
// and closes the channel; calling it more than once is harmless.
func (b *Bus) Subscribe(topic string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[int]chan Event)
		b.topics[topic] = subs
	}
	subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() { b.remove(topic, id) })
	}
}

func (b *Bus) remove(topic string, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.topics[topic]
	if !ok {
		return
	}
	if ch, ok := subs[id]; ok {
		close(ch)
		delete(subs, id)
	}
	if len(subs) == 0 {
		delete(b.topics, topic)
	}
}

// Subscribers returns the number of live subscriptions on topic.
func (b *Bus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// Close ends every subscription. Later subscriptions receive an already
// closed channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for topic, subs := range b.topics {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.topics, topic)
	}
}
