package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/courier/internal/event"
	"github.com/matheus3301/courier/internal/registry"
)

func TestWebsocketTransport(t *testing.T) {
	c := newCluster(t)
	n := c.node(t, "node-a")

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		key := registry.Key{UserID: r.URL.Query().Get("user_id"), DeviceID: r.URL.Query().Get("device_id")}
		_ = n.mgr.Serve(context.Background(), key, NewWebsocket(conn, WebsocketOptions{}))
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?user_id=alice&device_id=phone"
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	if err := client.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatal(err)
	}
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := client.ReadMessage()
		if err != nil {
			t.Fatal(err)
		}
		var f event.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			t.Fatal(err)
		}
		if f.Type == event.TypePong {
			break
		}
	}

	// A frame that is not JSON ends the session and the server closes.
	if err := client.WriteMessage(websocket.TextMessage, []byte(`not json`)); err != nil {
		t.Fatal(err)
	}
	for {
		if _, _, err := client.ReadMessage(); err != nil {
			break
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for n.mgr.Active() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("session still active after malformed frame")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
