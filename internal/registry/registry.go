// Package registry tracks the devices connected to this process and hands
// outbound frames to their sessions.
package registry

import (
	"context"
	"sync"

	"github.com/matheus3301/courier/internal/event"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Key identifies one connected device.
type Key struct {
	UserID   string
	DeviceID string
}

func (k Key) String() string {
	return k.UserID + "/" + k.DeviceID
}

// Registry maps (user, device) to the bounded outbound channel of the
// session serving it. The lock only guards map access; sends never block.
type Registry struct {
	mu    sync.RWMutex
	users map[string]map[string]chan<- event.Frame

	logger  *zap.Logger
	dropped metric.Int64Counter
}

// New creates an empty registry.
func New(logger *zap.Logger) *Registry {
	dropped, err := otel.Meter("courier/registry").Int64Counter(
		"courier.registry.dropped_frames",
		metric.WithDescription("Outbound frames dropped because a device buffer was full"),
	)
	if err != nil {
		logger.Warn("dropped frame counter unavailable", zap.Error(err))
	}
	return &Registry{
		users:   make(map[string]map[string]chan<- event.Frame),
		logger:  logger.Named("registry"),
		dropped: dropped,
	}
}

// Register stores ch for key, replacing any previous entry for the same
// device. It reports whether this is the user's first local device.
func (r *Registry) Register(key Key, ch chan<- event.Frame) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	devices, ok := r.users[key.UserID]
	if !ok {
		devices = make(map[string]chan<- event.Frame)
		r.users[key.UserID] = devices
	}
	first := len(devices) == 0
	devices[key.DeviceID] = ch
	return first
}

// Unregister removes key only if it still maps to ch, so a stale session
// cannot evict the one that replaced it. It reports whether the user has no
// local device left.
func (r *Registry) Unregister(key Key, ch chan<- event.Frame) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	devices, ok := r.users[key.UserID]
	if !ok {
		return false
	}
	if cur, ok := devices[key.DeviceID]; !ok || cur != ch {
		return false
	}
	delete(devices, key.DeviceID)
	if len(devices) == 0 {
		delete(r.users, key.UserID)
		return true
	}
	return false
}

// DeliverToUser enqueues frame on every local device of userID and returns
// how many accepted it. A device whose buffer is full misses the frame.
func (r *Registry) DeliverToUser(userID string, frame event.Frame) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for deviceID, ch := range r.users[userID] {
		if r.offer(Key{UserID: userID, DeviceID: deviceID}, ch, frame) {
			n++
		}
	}
	return n
}

// DeliverToDevice enqueues frame on one device. It reports false when the
// device is not registered or its buffer is full.
func (r *Registry) DeliverToDevice(key Key, frame event.Frame) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.users[key.UserID][key.DeviceID]
	if !ok {
		return false
	}
	return r.offer(key, ch, frame)
}

func (r *Registry) offer(key Key, ch chan<- event.Frame, frame event.Frame) bool {
	select {
	case ch <- frame:
		return true
	default:
		r.logger.Debug("outbound buffer full, dropping frame",
			zap.Stringer("device", key), zap.String("type", frame.Type))
		if r.dropped != nil {
			r.dropped.Add(context.Background(), 1, metric.WithAttributes(attribute.String("type", frame.Type)))
		}
		return false
	}
}

// Devices lists the device ids registered for userID.
func (r *Registry) Devices(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.users[userID]))
	for id := range r.users[userID] {
		out = append(out, id)
	}
	return out
}

// Len returns the number of registered devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, devices := range r.users {
		n += len(devices)
	}
	return n
}

// Close drops every registration. Channels belong to their sessions and are
// not closed here.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.users)
}
