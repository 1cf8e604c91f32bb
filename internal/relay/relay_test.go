package relay

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/matheus3301/courier/internal/bus"
	"github.com/matheus3301/courier/internal/event"
	"github.com/nats-io/nats.go"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func receive(t *testing.T, sub Subscription) event.Envelope {
	t.Helper()
	select {
	case env, ok := <-sub.C():
		if !ok {
			t.Fatal("subscription closed")
		}
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for envelope")
	}
	return event.Envelope{}
}

// exercise runs the behavior every backend must share.
func exercise(t *testing.T, r Relay) {
	t.Helper()
	ctx := context.Background()

	bob, err := r.Subscribe(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	defer bob.Close()
	carol, err := r.Subscribe(ctx, "carol")
	if err != nil {
		t.Fatal(err)
	}
	defer carol.Close()

	if err := r.Publish(ctx, "bob", event.Envelope{Origin: "node-a", Frame: event.Pong()}); err != nil {
		t.Fatal(err)
	}
	env := receive(t, bob)
	if env.Origin != "node-a" || env.Frame.Type != event.TypePong {
		t.Errorf("envelope = %+v", env)
	}

	select {
	case env := <-carol.C():
		t.Errorf("carol received %+v", env)
	case <-time.After(100 * time.Millisecond):
	}

	if err := bob.Close(); err != nil {
		t.Fatal(err)
	}
	for range bob.C() {
		// Drain until closed.
	}
}

func TestMemoryRelay(t *testing.T) {
	exercise(t, NewMemory(bus.New(), 8))
}

func TestMemorySubscriptionEndsWithContext(t *testing.T) {
	r := NewMemory(bus.New(), 8)
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := r.Subscribe(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	cancel()

	select {
	case _, ok := <-sub.C():
		if ok {
			t.Fatal("unexpected envelope")
		}
	case <-time.After(time.Second):
		t.Fatal("subscription did not end after cancel")
	}
}

func TestMemoryCloseEndsSubscriptions(t *testing.T) {
	r := NewMemory(bus.New(), 8)
	sub, err := r.Subscribe(context.Background(), "bob")
	if err != nil {
		t.Fatal(err)
	}
	_ = r.Close()

	select {
	case _, ok := <-sub.C():
		if ok {
			t.Fatal("unexpected envelope")
		}
	case <-time.After(time.Second):
		t.Fatal("subscription did not end after relay close")
	}
}

func TestMemoryTwoSubscribersSameUser(t *testing.T) {
	r := NewMemory(bus.New(), 8)
	ctx := context.Background()
	phone, _ := r.Subscribe(ctx, "bob")
	defer phone.Close()
	laptop, _ := r.Subscribe(ctx, "bob")
	defer laptop.Close()

	_ = r.Publish(ctx, "bob", event.Envelope{Origin: "n", Frame: event.Pong()})
	receive(t, phone)
	receive(t, laptop)
}

func TestRedisRelay(t *testing.T) {
	url := os.Getenv("COURIER_TEST_REDIS_URL")
	if url == "" {
		t.Skip("COURIER_TEST_REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		t.Fatal(err)
	}
	client := redis.NewClient(opt)
	defer client.Close()

	exercise(t, NewRedis(client, "courier:test:"+t.Name()+":", zap.NewNop()))
}

func TestNATSRelay(t *testing.T) {
	url := os.Getenv("COURIER_TEST_NATS_URL")
	if url == "" {
		t.Skip("COURIER_TEST_NATS_URL not set")
	}
	nc, err := nats.Connect(url, nats.Name("courier-test"))
	if err != nil {
		t.Fatal(err)
	}
	defer nc.Close()

	exercise(t, NewNATS(nc, "courier.test.", zap.NewNop()))
}
