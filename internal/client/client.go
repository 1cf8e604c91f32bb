package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/courier/internal/api"
	"github.com/matheus3301/courier/internal/event"
)

// Client talks to a courier daemon as one user and device.
type Client struct {
	base     *url.URL
	userID   string
	deviceID string
	http     *http.Client
}

// New returns a client for the daemon at baseURL, e.g. http://localhost:8080.
func New(baseURL, userID, deviceID string) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse daemon url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("daemon url %q: scheme must be http or https", baseURL)
	}
	return &Client{base: u, userID: userID, deviceID: deviceID, http: http.DefaultClient}, nil
}

// Error is a non-2xx response from the daemon.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("daemon returned %d: %s", e.Status, e.Message)
}

type Participant struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

type Conversation struct {
	ID           string         `json:"id"`
	Kind         string         `json:"kind"`
	Name         string         `json:"name,omitempty"`
	Participants []Participant  `json:"participants"`
	UnreadCount  int            `json:"unread_count"`
	LastMessage  *event.Message `json:"last_message,omitempty"`
}

func (c *Client) ListConversations(ctx context.Context, limit int) ([]Conversation, error) {
	var resp struct {
		Conversations []Conversation `json:"conversations"`
	}
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/conversations", q, nil, &resp)
	return resp.Conversations, err
}

func (c *Client) CreateDirect(ctx context.Context, otherUserID string) (*Conversation, error) {
	var conv Conversation
	if err := c.do(ctx, http.MethodPost, "/api/v1/conversations/direct", nil, map[string]string{"user_id": otherUserID}, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (c *Client) CreateGroup(ctx context.Context, name string, memberIDs []string) (*Conversation, error) {
	var conv Conversation
	body := map[string]any{"name": name, "member_ids": memberIDs}
	if err := c.do(ctx, http.MethodPost, "/api/v1/conversations/group", nil, body, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// Send posts a text message.
func (c *Client) Send(ctx context.Context, conversationID, text string) (*event.Message, error) {
	var msg event.Message
	body := map[string]any{"type": "text", "content": []byte(text)}
	if err := c.do(ctx, http.MethodPost, "/api/v1/conversations/"+url.PathEscape(conversationID)+"/messages", nil, body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Messages returns history newest first, optionally older than before.
func (c *Client) Messages(ctx context.Context, conversationID string, limit int, before string) ([]event.Message, error) {
	var resp struct {
		Messages []event.Message `json:"messages"`
	}
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if before != "" {
		q.Set("before", before)
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/conversations/"+url.PathEscape(conversationID)+"/messages", q, nil, &resp)
	return resp.Messages, err
}

func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/messages/"+url.PathEscape(messageID)+"/read", nil, nil, nil)
}

func (c *Client) Presence(ctx context.Context, userID string) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/presence/"+url.PathEscape(userID), nil, nil, &resp)
	return resp.Status, err
}

// Watch opens a websocket session and calls fn for every frame until ctx
// is done or the connection drops.
func (c *Client) Watch(ctx context.Context, fn func(event.Frame)) error {
	u := *c.base
	u.Path += "/api/v1/ws"
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), c.header())
	if err != nil {
		return fmt.Errorf("dial websocket: %w", err)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	for {
		var f event.Frame
		if err := conn.ReadJSON(&f); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read frame: %w", err)
		}
		fn(f)
	}
}

func (c *Client) header() http.Header {
	h := http.Header{}
	h.Set(api.HeaderUserID, c.userID)
	if c.deviceID != "" {
		h.Set(api.HeaderDeviceID, c.deviceID)
	}
	return h
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body, out any) error {
	u := *c.base
	u.Path += path
	u.RawQuery = q.Encode()

	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), r)
	if err != nil {
		return err
	}
	req.Header = c.header()
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &Error{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
