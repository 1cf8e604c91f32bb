package store

import (
	"fmt"
	"time"

	"github.com/matheus3301/courier/internal/status"
)

// ConversationKind is fixed at creation.
type ConversationKind string

const (
	KindDirect ConversationKind = "direct"
	KindGroup  ConversationKind = "group"
)

// Role of a participant inside a conversation.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// ContentType tags the opaque message payload.
type ContentType string

const (
	ContentText    ContentType = "text"
	ContentImage   ContentType = "image"
	ContentVideo   ContentType = "video"
	ContentAudio   ContentType = "audio"
	ContentFile    ContentType = "file"
	ContentSticker ContentType = "sticker"
	ContentSystem  ContentType = "system"
)

var contentTypes = map[ContentType]struct{}{
	ContentText: {}, ContentImage: {}, ContentVideo: {}, ContentAudio: {},
	ContentFile: {}, ContentSticker: {}, ContentSystem: {},
}

// ParseContentType maps a client supplied tag to a ContentType. Unknown or
// empty tags fall back to text.
func ParseContentType(s string) ContentType {
	ct := ContentType(s)
	if _, ok := contentTypes[ct]; ok {
		return ct
	}
	return ContentText
}

// ReceiptKind is the acknowledgment a recipient records.
type ReceiptKind string

const (
	ReceiptDelivered ReceiptKind = "delivered"
	ReceiptRead      ReceiptKind = "read"
)

// ParseReceiptKind validates a receipt kind.
func ParseReceiptKind(s string) (ReceiptKind, error) {
	switch k := ReceiptKind(s); k {
	case ReceiptDelivered, ReceiptRead:
		return k, nil
	default:
		return "", fmt.Errorf("%w: unknown receipt kind %q", ErrBadRequest, s)
	}
}

// Status is the message status a receipt of this kind advances to.
func (k ReceiptKind) Status() status.Status {
	if k == ReceiptRead {
		return status.Read
	}
	return status.Delivered
}

// Conversation is a direct or group chat. Participants, UnreadCount and
// LastMessage are only filled by the detail queries.
type Conversation struct {
	ID            string
	Kind          ConversationKind
	Name          string
	CreatedBy     string
	LastMessageAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time

	Participants []Participant
	UnreadCount  int
	LastMessage  *Message
}

// Participant is one membership row. A user who left keeps the row with
// LeftAt set; rejoining creates a new row.
type Participant struct {
	ConversationID string
	UserID         string
	Role           Role
	JoinedAt       time.Time
	LeftAt         *time.Time
	MutedUntil     *time.Time
}

// Active reports whether the membership is current.
func (p Participant) Active() bool {
	return p.LeftAt == nil
}

// Message is a persisted chat message.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	ContentType    ContentType
	Content        []byte
	ReplyToID      string
	StickerID      string
	Status         status.Status
	CreatedAt      time.Time
	UpdatedAt      time.Time
	EditedAt       *time.Time
	DeletedAt      *time.Time
}

// Receipt is a recorded acknowledgment.
type Receipt struct {
	MessageID string
	UserID    string
	Kind      ReceiptKind
	CreatedAt time.Time
}
