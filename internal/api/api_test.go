package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/matheus3301/courier/internal/bus"
	"github.com/matheus3301/courier/internal/delivery"
	"github.com/matheus3301/courier/internal/event"
	"github.com/matheus3301/courier/internal/fanout"
	"github.com/matheus3301/courier/internal/presence"
	"github.com/matheus3301/courier/internal/receipt"
	"github.com/matheus3301/courier/internal/registry"
	"github.com/matheus3301/courier/internal/relay"
	"github.com/matheus3301/courier/internal/session"
	"github.com/matheus3301/courier/internal/store"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	router *gin.Engine
	mgr    *session.Manager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	_, err = db.Migrate()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	logger := zap.NewNop()
	reg := registry.New(logger)
	rl := relay.NewMemory(bus.New(), 16)
	t.Cleanup(func() { _ = rl.Close() })
	d := fanout.New("node-a", reg, rl, logger)
	tracker := presence.NewTracker(presence.NewMemory(nil), time.Minute, 5*time.Second, logger)
	coord := delivery.New(db, d, tracker, logger)
	receipts := receipt.New(db, d, logger)
	mgr := session.NewManager(session.Deps{
		NodeID:   "node-a",
		Registry: reg,
		Relay:    rl,
		Convs:    coord,
		Receipts: receipts,
		Logger:   logger,
	}, session.DefaultOptions())

	router := NewRouter(logger, db.Health, []string{"https://app.example.com"},
		NewConversationService(coord),
		NewMessageService(coord, receipts),
		NewPresenceService(coord),
		NewSessionService(mgr, session.WebsocketOptions{}, logger),
	)
	return &testServer{router: router, mgr: mgr}
}

// do sends a request as user and decodes a JSON response into out when set.
func (s *testServer) do(t *testing.T, user, method, path string, body any, out any) int {
	t.Helper()
	var r *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	} else {
		r = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(HeaderUserID, user)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	if out != nil && w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
	}
	return w.Code
}

func (s *testServer) direct(t *testing.T, a, b string) conversationView {
	t.Helper()
	var conv conversationView
	code := s.do(t, a, http.MethodPost, "/api/v1/conversations/direct", createDirectRequest{UserID: b}, &conv)
	require.Equal(t, http.StatusCreated, code)
	return conv
}

func (s *testServer) send(t *testing.T, user, convID, text string) event.Message {
	t.Helper()
	var msg event.Message
	code := s.do(t, user, http.MethodPost, "/api/v1/conversations/"+convID+"/messages",
		sendRequest{Type: "text", Content: []byte(text)}, &msg)
	require.Equal(t, http.StatusCreated, code)
	return msg
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	var body map[string]string
	require.Equal(t, http.StatusOK, s.do(t, "", http.MethodGet, "/healthz", nil, &body))
	require.Equal(t, "ok", body["status"])
}

func TestHealthzReportsFailure(t *testing.T) {
	router := NewRouter(zap.NewNop(), func(context.Context) error { return errors.New("disk gone") }, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/conversations", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", HeaderUserID)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestMissingIdentity(t *testing.T) {
	s := newTestServer(t)
	var body map[string]string
	require.Equal(t, http.StatusUnauthorized, s.do(t, "", http.MethodGet, "/api/v1/conversations", nil, &body))
	require.Contains(t, body["error"], HeaderUserID)

	require.Equal(t, http.StatusBadRequest, s.do(t, "bad user*", http.MethodGet, "/api/v1/conversations", nil, nil))
}

func TestDirectConversationFlow(t *testing.T) {
	s := newTestServer(t)
	conv := s.direct(t, "alice", "bob")
	require.Equal(t, "direct", conv.Kind)
	require.Len(t, conv.Participants, 2)

	again := s.direct(t, "bob", "alice")
	require.Equal(t, conv.ID, again.ID)

	s.send(t, "alice", conv.ID, "hi")
	msg := s.send(t, "alice", conv.ID, "there")
	require.Equal(t, "sent", msg.Status)
	require.Equal(t, []byte("there"), msg.Content)

	var got conversationView
	require.Equal(t, http.StatusOK, s.do(t, "bob", http.MethodGet, "/api/v1/conversations/"+conv.ID, nil, &got))
	require.Equal(t, 2, got.UnreadCount)
	require.NotNil(t, got.LastMessage)
	require.Equal(t, msg.ID, got.LastMessage.ID)

	var page listMessagesResponse
	require.Equal(t, http.StatusOK, s.do(t, "bob", http.MethodGet, "/api/v1/conversations/"+conv.ID+"/messages?limit=1", nil, &page))
	require.Len(t, page.Messages, 1)
	require.Equal(t, msg.ID, page.Messages[0].ID)
	require.True(t, page.PageInfo.HasMore)

	require.Equal(t, http.StatusOK, s.do(t, "bob", http.MethodGet,
		"/api/v1/conversations/"+conv.ID+"/messages?before="+msg.ID, nil, &page))
	require.Len(t, page.Messages, 1)
	require.Equal(t, []byte("hi"), page.Messages[0].Content)
	require.False(t, page.PageInfo.HasMore)

	var list listConversationsResponse
	require.Equal(t, http.StatusOK, s.do(t, "alice", http.MethodGet, "/api/v1/conversations", nil, &list))
	require.Len(t, list.Conversations, 1)
}

func TestCreateDirectRejectsSelf(t *testing.T) {
	s := newTestServer(t)
	code := s.do(t, "alice", http.MethodPost, "/api/v1/conversations/direct", createDirectRequest{UserID: "alice"}, nil)
	require.Equal(t, http.StatusBadRequest, code)

	code = s.do(t, "alice", http.MethodPost, "/api/v1/conversations/direct", map[string]string{}, nil)
	require.Equal(t, http.StatusBadRequest, code)

	code = s.do(t, "alice", http.MethodPost, "/api/v1/conversations/direct", createDirectRequest{UserID: "carol.>"}, nil)
	require.Equal(t, http.StatusBadRequest, code)

	code = s.do(t, "alice", http.MethodPost, "/api/v1/conversations/group",
		createGroupRequest{Name: "team", MemberIDs: []string{"bob", "bob *"}}, nil)
	require.Equal(t, http.StatusBadRequest, code)
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)
	conv := s.direct(t, "alice", "bob")
	msg := s.send(t, "alice", conv.ID, "secret")

	var body map[string]string
	require.Equal(t, http.StatusForbidden, s.do(t, "mallory", http.MethodGet,
		"/api/v1/conversations/"+conv.ID+"/messages", nil, &body))
	require.NotEmpty(t, body["error"])

	require.Equal(t, http.StatusForbidden, s.do(t, "mallory", http.MethodPost,
		"/api/v1/conversations/"+conv.ID+"/messages", sendRequest{Content: []byte("x")}, nil))

	require.Equal(t, http.StatusNotFound, s.do(t, "mallory", http.MethodGet,
		"/api/v1/conversations/"+conv.ID, nil, nil))

	require.Equal(t, http.StatusNotFound, s.do(t, "bob", http.MethodPost,
		"/api/v1/messages/missing/read", nil, nil))

	// Only the sender may delete.
	require.Equal(t, http.StatusNotFound, s.do(t, "bob", http.MethodDelete, "/api/v1/messages/"+msg.ID, nil, nil))
	require.Equal(t, http.StatusNoContent, s.do(t, "alice", http.MethodDelete, "/api/v1/messages/"+msg.ID, nil, nil))
}

func TestReceiptsAdvanceStatus(t *testing.T) {
	s := newTestServer(t)
	conv := s.direct(t, "alice", "bob")
	msg := s.send(t, "alice", conv.ID, "hello")

	var res receiptResponse
	require.Equal(t, http.StatusOK, s.do(t, "bob", http.MethodPost, "/api/v1/messages/"+msg.ID+"/delivered", nil, &res))
	require.True(t, res.Recorded)
	require.Equal(t, "delivered", res.Message.Status)

	require.Equal(t, http.StatusOK, s.do(t, "bob", http.MethodPost, "/api/v1/messages/"+msg.ID+"/read", nil, &res))
	require.Equal(t, "read", res.Message.Status)

	// A late delivered receipt changes nothing.
	require.Equal(t, http.StatusOK, s.do(t, "bob", http.MethodPost, "/api/v1/messages/"+msg.ID+"/delivered", nil, &res))
	require.False(t, res.Recorded)
	require.Equal(t, "read", res.Message.Status)
}

func TestUnreadCountEndpoint(t *testing.T) {
	s := newTestServer(t)
	conv := s.direct(t, "alice", "bob")
	msg := s.send(t, "alice", conv.ID, "one")
	s.send(t, "alice", conv.ID, "two")

	path := "/api/v1/conversations/" + conv.ID + "/unread"
	var got unreadResponse
	require.Equal(t, http.StatusOK, s.do(t, "bob", http.MethodGet, path, nil, &got))
	require.Equal(t, conv.ID, got.ConversationID)
	require.Equal(t, 2, got.UnreadCount)

	require.Equal(t, http.StatusOK, s.do(t, "bob", http.MethodPost, "/api/v1/messages/"+msg.ID+"/read", nil, nil))
	require.Equal(t, http.StatusOK, s.do(t, "bob", http.MethodGet, path, nil, &got))
	require.Equal(t, 1, got.UnreadCount)

	require.Equal(t, http.StatusOK, s.do(t, "alice", http.MethodGet, path, nil, &got))
	require.Equal(t, 0, got.UnreadCount)

	require.Equal(t, http.StatusForbidden, s.do(t, "mallory", http.MethodGet, path, nil, nil))
}

func TestGroupLifecycle(t *testing.T) {
	s := newTestServer(t)
	var conv conversationView
	code := s.do(t, "alice", http.MethodPost, "/api/v1/conversations/group",
		createGroupRequest{Name: "team", MemberIDs: []string{"bob", "carol", "alice"}}, &conv)
	require.Equal(t, http.StatusCreated, code)
	require.Equal(t, "group", conv.Kind)
	require.Len(t, conv.Participants, 3)

	require.Equal(t, http.StatusBadRequest, s.do(t, "alice", http.MethodPost, "/api/v1/conversations/group",
		createGroupRequest{Name: ""}, nil))

	require.Equal(t, http.StatusAccepted, s.do(t, "bob", http.MethodPost,
		"/api/v1/conversations/"+conv.ID+"/typing", typingRequest{IsTyping: true}, nil))

	require.Equal(t, http.StatusNoContent, s.do(t, "carol", http.MethodPost, "/api/v1/conversations/"+conv.ID+"/leave", nil, nil))
	require.Equal(t, http.StatusForbidden, s.do(t, "carol", http.MethodPost,
		"/api/v1/conversations/"+conv.ID+"/typing", typingRequest{IsTyping: true}, nil))
	require.Equal(t, http.StatusForbidden, s.do(t, "carol", http.MethodPost, "/api/v1/conversations/"+conv.ID+"/leave", nil, nil))
}

func TestPresenceLookup(t *testing.T) {
	s := newTestServer(t)
	var p presenceResponse
	require.Equal(t, http.StatusOK, s.do(t, "alice", http.MethodGet, "/api/v1/presence/bob", nil, &p))
	require.Equal(t, "offline", p.Status)
}

func TestWebsocketSession(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()
	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"

	_, resp, err := websocket.DefaultDialer.Dial(base+"?user_id=bob", nil)
	require.Error(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	header := http.Header{}
	header.Set(HeaderUserID, "bob")
	header.Set(HeaderDeviceID, "phone")
	ws, _, err := websocket.DefaultDialer.Dial(base, header)
	require.NoError(t, err)
	defer ws.Close()

	require.Eventually(t, func() bool { return s.mgr.Active() == 1 }, 2*time.Second, 10*time.Millisecond)

	var p presenceResponse
	require.Eventually(t, func() bool {
		s.do(t, "alice", http.MethodGet, "/api/v1/presence/bob", nil, &p)
		return p.Status == "online"
	}, 2*time.Second, 10*time.Millisecond)

	conv := s.direct(t, "alice", "bob")
	msg := s.send(t, "alice", conv.ID, "ping")

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var f event.Frame
		require.NoError(t, ws.ReadJSON(&f))
		if f.Type != event.TypeNewMessage {
			continue
		}
		var got event.Message
		require.NoError(t, f.Decode(&got))
		require.Equal(t, msg.ID, got.ID)
		break
	}

	require.NoError(t, s.mgr.Shutdown(context.Background()))
	require.Equal(t, 0, s.mgr.Active())
}
