package event

import (
	"encoding/json"
	"time"

	"github.com/matheus3301/courier/internal/store"
)

// Message is the wire view of a persisted message.
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	SenderID       string     `json:"sender_id"`
	Type           string     `json:"type"`
	Content        []byte     `json:"content"`
	ReplyToID      string     `json:"reply_to_id,omitempty"`
	StickerID      string     `json:"sticker_id,omitempty"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	EditedAt       *time.Time `json:"edited_at,omitempty"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
}

// MessageView converts a store message to its wire view.
func MessageView(m *store.Message) Message {
	return Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Type:           string(m.ContentType),
		Content:        m.Content,
		ReplyToID:      m.ReplyToID,
		StickerID:      m.StickerID,
		Status:         string(m.Status),
		CreatedAt:      m.CreatedAt,
		EditedAt:       m.EditedAt,
		DeletedAt:      m.DeletedAt,
	}
}

// Typing is sent by a device and relayed to the other participants. The
// server fills UserID on the way out.
type Typing struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id,omitempty"`
	IsTyping       bool   `json:"is_typing"`
}

// Presence is sent by a device to change its status and relayed to peers.
type Presence struct {
	UserID string `json:"user_id,omitempty"`
	Status string `json:"status"`
}

// Ack is an inbound acknowledgment of a message.
type Ack struct {
	MessageID string `json:"message_id"`
	Kind      string `json:"kind"`
}

// Receipt tells a sender that a recipient acknowledged a message.
type Receipt struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Kind           string `json:"kind"`
	Status         string `json:"status"`
}

// Deleted announces a soft-deleted message.
type Deleted struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
}

// ErrorPayload reports a failed inbound frame.
type ErrorPayload struct {
	Error string `json:"error"`
}

func NewMessage(m *store.Message) Frame {
	return build(TypeNewMessage, MessageView(m))
}

func TypingFrame(conversationID, userID string, isTyping bool) Frame {
	return build(TypeTyping, Typing{ConversationID: conversationID, UserID: userID, IsTyping: isTyping})
}

func PresenceFrame(userID, status string) Frame {
	return build(TypePresence, Presence{UserID: userID, Status: status})
}

func ReceiptFrame(r Receipt) Frame {
	return build(TypeReceipt, r)
}

func DeletedFrame(messageID, conversationID string) Frame {
	return build(TypeMessageDeleted, Deleted{MessageID: messageID, ConversationID: conversationID})
}

func Pong() Frame {
	return Frame{Type: TypePong}
}

// Error builds an error frame. It never fails.
func Error(msg string) Frame {
	raw, _ := json.Marshal(ErrorPayload{Error: msg})
	return Frame{Type: TypeError, Payload: raw}
}
