// Package session runs one device connection: it registers the device,
// keeps its presence alive and moves frames between the transport, the
// delivery core and the relay.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/courier/internal/event"
	"github.com/matheus3301/courier/internal/presence"
	"github.com/matheus3301/courier/internal/registry"
	"github.com/matheus3301/courier/internal/relay"
	"github.com/matheus3301/courier/internal/store"
	"go.uber.org/zap"
)

// Conversations is the part of the delivery core a session drives.
type Conversations interface {
	BroadcastTyping(ctx context.Context, conversationID, userID string, isTyping bool) error
	UpdatePresence(ctx context.Context, userID, status string) error
	SetPresence(ctx context.Context, userID string, st presence.Status)
	RefreshPresence(ctx context.Context, userID string, st presence.Status)
}

// Receipts records acknowledgments sent by the device.
type Receipts interface {
	Mark(ctx context.Context, messageID, userID string, kind store.ReceiptKind) (*store.ReceiptResult, error)
}

// Session is one connected device.
type Session struct {
	key       registry.Key
	transport Transport
	out       chan event.Frame
	machine   *machine

	registry *registry.Registry
	relay    relay.Relay
	convs    Conversations
	receipts Receipts
	nodeID   string
	opts     Options
	logger   *zap.Logger

	mu     sync.Mutex
	status presence.Status

	ready     chan struct{}
	readyOnce sync.Once
	closeOnce sync.Once
}

// Key returns the device this session serves.
func (s *Session) Key() registry.Key { return s.key }

// State returns the current lifecycle state.
func (s *Session) State() State { return s.machine.Current() }

// Ready is closed once the device is registered and its relay
// subscription is live.
func (s *Session) Ready() <-chan struct{} { return s.ready }

// run drives the session until the transport fails, the client goes away or
// ctx is cancelled. It returns the error of the first loop that stopped, nil
// for an orderly shutdown.
func (s *Session) run(ctx context.Context) error {
	if err := s.machine.Transition(Active); err != nil {
		_ = s.transport.Close()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	first := s.registry.Register(s.key, s.out)
	s.setStatus(presence.Online)
	if first {
		s.convs.SetPresence(ctx, s.key.UserID, presence.Online)
	} else {
		s.convs.RefreshPresence(ctx, s.key.UserID, presence.Online)
	}
	s.logger.Info("session active", zap.Bool("first_device", first))

	errc := make(chan error, 3)
	var wg sync.WaitGroup
	loop := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := fn(ctx)
			errc <- err
			s.shutdown(name, err)
			cancel()
		}()
	}
	loop("inbound", s.inbound)
	loop("outbound", s.outbound)
	loop("relay", s.relayLoop)
	wg.Wait()

	err := <-errc
	s.finish()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// shutdown moves to closing and closes the transport so the other loops
// unblock. Only the first caller has any effect.
func (s *Session) shutdown(loop string, err error) {
	s.closeOnce.Do(func() {
		if terr := s.machine.Transition(Closing); terr != nil {
			s.logger.Warn("session transition", zap.Error(terr))
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Info("session ending", zap.String("loop", loop), zap.Error(err))
		} else {
			s.logger.Debug("session ending", zap.String("loop", loop))
		}
		_ = s.transport.Close()
	})
}

func (s *Session) finish() {
	last := s.registry.Unregister(s.key, s.out)
	if last {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.CleanupTimeout)
		defer cancel()
		s.convs.SetPresence(ctx, s.key.UserID, presence.Offline)
	}
	if err := s.machine.Transition(Closed); err != nil {
		s.logger.Warn("session transition", zap.Error(err))
	}
	s.logger.Info("session closed", zap.Bool("last_device", last))
}

func (s *Session) inbound(ctx context.Context) error {
	for {
		f, err := s.transport.ReadFrame(ctx)
		if err != nil {
			return err
		}
		if err := s.dispatch(ctx, f); err != nil {
			s.logger.Debug("frame rejected", zap.String("type", f.Type), zap.Error(err))
			s.offer(event.Error(err.Error()))
		}
	}
}

func (s *Session) dispatch(ctx context.Context, f event.Frame) error {
	switch f.Type {
	case event.TypePing:
		s.offer(event.Pong())
		return nil

	case event.TypePresence:
		var p event.Presence
		if err := f.Decode(&p); err != nil {
			return err
		}
		if err := s.convs.UpdatePresence(ctx, s.key.UserID, p.Status); err != nil {
			return err
		}
		s.setStatus(presence.Status(p.Status))
		return nil

	case event.TypeTyping:
		var t event.Typing
		if err := f.Decode(&t); err != nil {
			return err
		}
		if t.ConversationID == "" {
			return fmt.Errorf("%w: typing needs a conversation_id", store.ErrBadRequest)
		}
		return s.convs.BroadcastTyping(ctx, t.ConversationID, s.key.UserID, t.IsTyping)

	case event.TypeAck:
		var a event.Ack
		if err := f.Decode(&a); err != nil {
			return err
		}
		if a.MessageID == "" {
			s.logger.Debug("ack without message id")
			return nil
		}
		kind := store.ReceiptDelivered
		if a.Kind != "" {
			k, err := store.ParseReceiptKind(a.Kind)
			if err != nil {
				return err
			}
			kind = k
		}
		_, err := s.receipts.Mark(ctx, a.MessageID, s.key.UserID, kind)
		return err

	default:
		s.logger.Debug("ignoring frame", zap.String("type", f.Type))
		return nil
	}
}

func (s *Session) outbound(ctx context.Context) error {
	ping := time.NewTicker(s.opts.PingInterval)
	defer ping.Stop()
	refresh := time.NewTicker(s.opts.PresenceRefresh)
	defer refresh.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f := <-s.out:
			if err := s.transport.WriteFrame(ctx, f); err != nil {
				return fmt.Errorf("write %s: %w", f.Type, err)
			}
		case <-ping.C:
			if err := s.transport.Ping(ctx); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		case <-refresh.C:
			s.convs.RefreshPresence(ctx, s.key.UserID, s.currentStatus())
		}
	}
}

// relayLoop forwards frames published by other nodes to this device. When
// the subscription ends while the session is still active it subscribes
// again after a backoff.
func (s *Session) relayLoop(ctx context.Context) error {
	for {
		sub, err := s.relay.Subscribe(ctx, s.key.UserID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("relay subscribe failed", zap.Error(err))
			if !sleep(ctx, s.opts.ResubscribeBackoff) {
				return ctx.Err()
			}
			continue
		}
		s.readyOnce.Do(func() { close(s.ready) })

		s.forward(ctx, sub)
		_ = sub.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Info("relay subscription ended, resubscribing")
		if !sleep(ctx, s.opts.ResubscribeBackoff) {
			return ctx.Err()
		}
	}
}

func (s *Session) forward(ctx context.Context, sub relay.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-sub.C():
			if !ok {
				return
			}
			if env.Origin == s.nodeID {
				continue
			}
			if s.reassert(ctx, env.Frame) {
				continue
			}
			s.offer(env.Frame)
		}
	}
}

// reassert handles another node reporting this user offline while this
// device is still connected: the stored status is written back and peers
// are told again. It reports whether f was consumed.
func (s *Session) reassert(ctx context.Context, f event.Frame) bool {
	if f.Type != event.TypePresence {
		return false
	}
	var p event.Presence
	if err := f.Decode(&p); err != nil || p.UserID != s.key.UserID {
		return false
	}
	if presence.Status(p.Status) != presence.Offline {
		return true
	}
	st := s.currentStatus()
	if st == presence.Offline {
		return true
	}
	s.logger.Info("offline reported by another node, restoring presence", zap.String("status", string(st)))
	s.convs.SetPresence(ctx, s.key.UserID, st)
	return true
}

// offer queues f for this device without blocking.
func (s *Session) offer(f event.Frame) {
	select {
	case s.out <- f:
	default:
		s.logger.Debug("outbound buffer full, dropping frame", zap.String("type", f.Type))
	}
}

func (s *Session) setStatus(st presence.Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

func (s *Session) currentStatus() presence.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
