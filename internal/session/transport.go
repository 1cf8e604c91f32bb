package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/courier/internal/event"
)

// ErrDecode marks an inbound message that is not a valid frame. It ends the
// session.
var ErrDecode = errors.New("malformed frame")

// Transport is the device connection a session runs over. ReadFrame is only
// called from the inbound loop; WriteFrame and Ping only from the outbound
// loop; Close may be called from anywhere, more than once, and unblocks a
// pending ReadFrame.
type Transport interface {
	ReadFrame(ctx context.Context) (event.Frame, error)
	WriteFrame(ctx context.Context, f event.Frame) error
	Ping(ctx context.Context) error
	Close() error
}

// WebsocketOptions tunes a websocket transport.
type WebsocketOptions struct {
	WriteTimeout   time.Duration
	PongWait       time.Duration
	MaxMessageSize int64
}

// DefaultWebsocketOptions returns the settings used when none are given.
func DefaultWebsocketOptions() WebsocketOptions {
	return WebsocketOptions{
		WriteTimeout:   10 * time.Second,
		PongWait:       60 * time.Second,
		MaxMessageSize: 64 << 10,
	}
}

// Websocket adapts a gorilla connection to Transport. Each text message is
// one JSON frame.
type Websocket struct {
	conn *websocket.Conn
	opts WebsocketOptions
	once sync.Once
	err  error
}

// NewWebsocket wraps conn. A missing pong within PongWait fails the next read.
func NewWebsocket(conn *websocket.Conn, opts WebsocketOptions) *Websocket {
	def := DefaultWebsocketOptions()
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = def.WriteTimeout
	}
	if opts.PongWait <= 0 {
		opts.PongWait = def.PongWait
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = def.MaxMessageSize
	}
	conn.SetReadLimit(opts.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	})
	return &Websocket{conn: conn, opts: opts}
}

var _ Transport = (*Websocket)(nil)

func (w *Websocket) ReadFrame(_ context.Context) (event.Frame, error) {
	for {
		kind, data, err := w.conn.ReadMessage()
		if err != nil {
			return event.Frame{}, err
		}
		_ = w.conn.SetReadDeadline(time.Now().Add(w.opts.PongWait))
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		var f event.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			return event.Frame{}, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		return f, nil
	}
}

func (w *Websocket) WriteFrame(_ context.Context, f event.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	if err := w.conn.SetWriteDeadline(time.Now().Add(w.opts.WriteTimeout)); err != nil {
		return err
	}
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *Websocket) Ping(_ context.Context) error {
	return w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(w.opts.WriteTimeout))
}

// Close sends a normal closure and closes the socket.
func (w *Websocket) Close() error {
	w.once.Do(func() {
		_ = w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(w.opts.WriteTimeout))
		w.err = w.conn.Close()
	})
	return w.err
}
