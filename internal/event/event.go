// Package event defines the frames exchanged with connected devices and the
// envelopes carried between processes over the relay.
package event

import (
	"encoding/json"
	"fmt"
)

// Inbound frame types.
const (
	TypePing = "ping"
	TypeAck  = "ack"
)

// Frame types sent in both directions.
const (
	TypePresence = "presence"
	TypeTyping   = "typing"
)

// Outbound frame types.
const (
	TypePong           = "pong"
	TypeNewMessage     = "new_message"
	TypeReceipt        = "receipt"
	TypeMessageDeleted = "message_deleted"
	TypeError          = "error"
)

// Frame is one JSON message on a device connection.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Decode unmarshals the payload into v. An absent payload leaves v untouched.
func (f Frame) Decode(v any) error {
	if len(f.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(f.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", f.Type, err)
	}
	return nil
}

// Envelope wraps a frame published on the relay with the id of the node that
// published it.
type Envelope struct {
	Origin string `json:"origin"`
	Frame  Frame  `json:"frame"`
}

// Marshal encodes the envelope for a wire relay.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEnvelope decodes an envelope read from a wire relay.
func UnmarshalEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return e, nil
}

// New builds a frame with a JSON encoded payload.
func New(typ string, payload any) (Frame, error) {
	if payload == nil {
		return Frame{Type: typ}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	return Frame{Type: typ, Payload: raw}, nil
}

// build is New for payload types that always encode.
func build(typ string, payload any) Frame {
	f, err := New(typ, payload)
	if err != nil {
		return Error(err.Error())
	}
	return f
}
