package event

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/matheus3301/courier/internal/status"
	"github.com/matheus3301/courier/internal/store"
)

func TestFrameWireShape(t *testing.T) {
	f := TypingFrame("c1", "alice", true)
	raw, err := json.Marshal(f)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"type":"typing","payload":{"conversation_id":"c1","user_id":"alice","is_typing":true}}`
	if string(raw) != want {
		t.Errorf("frame = %s, want %s", raw, want)
	}

	raw, _ = json.Marshal(Pong())
	if string(raw) != `{"type":"pong"}` {
		t.Errorf("pong = %s", raw)
	}
}

func TestDecodeEmptyPayload(t *testing.T) {
	var ack Ack
	if err := (Frame{Type: TypeAck}).Decode(&ack); err != nil {
		t.Fatal(err)
	}
	if ack.MessageID != "" {
		t.Errorf("ack = %+v, want zero", ack)
	}
	if err := (Frame{Type: TypeAck, Payload: json.RawMessage(`[1]`)}).Decode(&ack); err == nil {
		t.Error("mismatched payload should fail")
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	msg := &store.Message{
		ID:             "m1",
		ConversationID: "c1",
		SenderID:       "alice",
		ContentType:    store.ContentText,
		Content:        []byte("hello"),
		Status:         status.Sent,
		CreatedAt:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	env := Envelope{Origin: "node-a", Frame: NewMessage(msg)}
	raw, err := env.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	got, err := UnmarshalEnvelope(raw)
	if err != nil {
		t.Fatal(err)
	}
	if got.Origin != "node-a" || got.Frame.Type != TypeNewMessage {
		t.Fatalf("envelope = %+v", got)
	}
	var view Message
	if err := got.Frame.Decode(&view); err != nil {
		t.Fatal(err)
	}
	if view.ID != "m1" || string(view.Content) != "hello" || view.Status != "sent" {
		t.Errorf("message view = %+v", view)
	}
}

func TestErrorFrame(t *testing.T) {
	var p ErrorPayload
	if err := Error("boom").Decode(&p); err != nil {
		t.Fatal(err)
	}
	if p.Error != "boom" {
		t.Errorf("error = %q", p.Error)
	}
}
