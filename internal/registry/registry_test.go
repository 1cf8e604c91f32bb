package registry

import (
	"slices"
	"sync"
	"testing"

	"github.com/matheus3301/courier/internal/event"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRegisterFirstAndLast(t *testing.T) {
	r := New(zap.NewNop())
	phone := make(chan event.Frame, 1)
	laptop := make(chan event.Frame, 1)

	require.True(t, r.Register(Key{"alice", "phone"}, phone))
	require.False(t, r.Register(Key{"alice", "laptop"}, laptop))
	require.Equal(t, 2, r.Len())

	require.False(t, r.Unregister(Key{"alice", "phone"}, phone))
	require.True(t, r.Unregister(Key{"alice", "laptop"}, laptop))
	require.Zero(t, r.Len())
}

func TestUnregisterIgnoresStaleChannel(t *testing.T) {
	r := New(zap.NewNop())
	old := make(chan event.Frame, 1)
	fresh := make(chan event.Frame, 1)
	key := Key{"alice", "phone"}

	r.Register(key, old)
	r.Register(key, fresh)

	require.False(t, r.Unregister(key, old), "stale session must not evict its replacement")
	require.True(t, r.DeliverToDevice(key, event.Pong()))
	require.Len(t, fresh, 1)
	require.Len(t, old, 0)
}

func TestDeliverToUser(t *testing.T) {
	r := New(zap.NewNop())
	phone := make(chan event.Frame, 1)
	laptop := make(chan event.Frame, 1)
	r.Register(Key{"bob", "phone"}, phone)
	r.Register(Key{"bob", "laptop"}, laptop)

	require.Equal(t, 2, r.DeliverToUser("bob", event.Pong()))
	require.Equal(t, 0, r.DeliverToUser("carol", event.Pong()))

	// Both buffers are full now; every device drops.
	require.Equal(t, 0, r.DeliverToUser("bob", event.Pong()))
	<-phone
	require.Equal(t, 1, r.DeliverToUser("bob", event.Pong()))
}

func TestDevicesAndClose(t *testing.T) {
	r := New(zap.NewNop())
	r.Register(Key{"alice", "a"}, make(chan event.Frame))
	r.Register(Key{"alice", "b"}, make(chan event.Frame))

	devices := r.Devices("alice")
	slices.Sort(devices)
	require.Equal(t, []string{"a", "b"}, devices)

	r.Close()
	require.Zero(t, r.Len())
	require.Empty(t, r.Devices("alice"))
}

func TestConcurrentAccess(t *testing.T) {
	r := New(zap.NewNop())
	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := Key{"alice", string(rune('a' + i))}
			ch := make(chan event.Frame, 4)
			r.Register(key, ch)
			r.DeliverToUser("alice", event.Pong())
			r.Unregister(key, ch)
		}(i)
	}
	wg.Wait()
	require.Zero(t, r.Len())
}
