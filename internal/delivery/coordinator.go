// Package delivery authorizes and persists conversation operations and fans
// the resulting events out to the participants' devices.
package delivery

import (
	"context"
	"fmt"

	"github.com/matheus3301/courier/internal/event"
	"github.com/matheus3301/courier/internal/fanout"
	"github.com/matheus3301/courier/internal/presence"
	"github.com/matheus3301/courier/internal/registry"
	"github.com/matheus3301/courier/internal/store"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Coordinator owns the write path of conversations and messages.
type Coordinator struct {
	db       *store.DB
	fanout   *fanout.Dispatcher
	presence *presence.Tracker
	logger   *zap.Logger
}

// New creates a coordinator.
func New(db *store.DB, d *fanout.Dispatcher, p *presence.Tracker, logger *zap.Logger) *Coordinator {
	return &Coordinator{db: db, fanout: d, presence: p, logger: logger.Named("delivery")}
}

// SendRequest is a message submitted by SenderID.
type SendRequest struct {
	ConversationID string
	SenderID       string
	Type           string
	Content        []byte
	StickerID      string
	ReplyToID      string
}

// CreateDirect returns the direct conversation between the two users,
// creating it if needed.
func (c *Coordinator) CreateDirect(ctx context.Context, userID, otherUserID string) (*store.Conversation, error) {
	if err := validateUsers(otherUserID); err != nil {
		return nil, err
	}
	id, err := c.db.CreateDirect(ctx, userID, otherUserID)
	if err != nil {
		return nil, err
	}
	return c.db.GetConversation(ctx, id, userID)
}

// CreateGroup creates a group owned by userID.
func (c *Coordinator) CreateGroup(ctx context.Context, userID, name string, memberIDs []string) (*store.Conversation, error) {
	members := lo.Uniq(lo.Without(memberIDs, userID, ""))
	if err := validateUsers(members...); err != nil {
		return nil, err
	}
	id, err := c.db.CreateGroup(ctx, userID, name, members)
	if err != nil {
		return nil, err
	}
	return c.db.GetConversation(ctx, id, userID)
}

// Send persists the message and pushes it to every other active
// participant. Once persisted the send succeeds even if no device is
// reachable.
func (c *Coordinator) Send(ctx context.Context, req SendRequest) (*store.Message, error) {
	msg, err := c.db.InsertMessage(ctx, store.NewMessage{
		ConversationID: req.ConversationID,
		SenderID:       req.SenderID,
		ContentType:    store.ParseContentType(req.Type),
		Content:        req.Content,
		StickerID:      req.StickerID,
		ReplyToID:      req.ReplyToID,
	})
	if err != nil {
		return nil, err
	}
	c.toRecipients(ctx, msg.ConversationID, msg.SenderID, event.NewMessage(msg))
	return msg, nil
}

// ListConversations returns the user's conversations, most recent first.
func (c *Coordinator) ListConversations(ctx context.Context, userID string, limit, offset int) ([]*store.Conversation, error) {
	return c.db.ListConversations(ctx, userID, limit, offset)
}

// GetConversation returns one conversation visible to userID.
func (c *Coordinator) GetConversation(ctx context.Context, conversationID, userID string) (*store.Conversation, error) {
	return c.db.GetConversation(ctx, conversationID, userID)
}

// ListMessages returns a page of history, newest first.
func (c *Coordinator) ListMessages(ctx context.Context, conversationID, userID string, page store.MessagePage) ([]*store.Message, error) {
	return c.db.ListMessages(ctx, conversationID, userID, page)
}

// DeleteMessage soft-deletes the caller's own message and tells the other
// participants.
func (c *Coordinator) DeleteMessage(ctx context.Context, messageID, userID string) error {
	msg, err := c.db.SoftDeleteMessage(ctx, messageID, userID)
	if err != nil {
		return err
	}
	c.toRecipients(ctx, msg.ConversationID, userID, event.DeletedFrame(msg.ID, msg.ConversationID))
	return nil
}

// BroadcastTyping relays a typing indicator. Nothing is stored.
func (c *Coordinator) BroadcastTyping(ctx context.Context, conversationID, userID string, isTyping bool) error {
	ok, err := c.db.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrNotParticipant
	}
	c.toRecipients(ctx, conversationID, userID, event.TypingFrame(conversationID, userID, isTyping))
	return nil
}

// LeaveConversation ends the user's membership.
func (c *Coordinator) LeaveConversation(ctx context.Context, conversationID, userID string) error {
	return c.db.LeaveConversation(ctx, conversationID, userID)
}

// UpdatePresence records the user's status and tells everyone who shares a
// conversation with them.
func (c *Coordinator) UpdatePresence(ctx context.Context, userID, status string) error {
	st, err := presence.ParseStatus(status)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrBadRequest, err)
	}
	c.presence.Set(ctx, userID, st)
	c.broadcastPresence(ctx, userID, st)
	return nil
}

// SetPresence records a status chosen by the server itself, such as online
// on connect or offline on the last disconnect. An offline write is also
// sent to the user's own devices so a node still holding one of them can
// restore the status.
func (c *Coordinator) SetPresence(ctx context.Context, userID string, st presence.Status) {
	c.presence.Set(ctx, userID, st)
	c.broadcastPresence(ctx, userID, st)
	if st == presence.Offline {
		c.fanout.ToUser(ctx, userID, event.PresenceFrame(userID, string(st)))
	}
}

// RefreshPresence extends the TTL of the user's current status without
// notifying anyone.
func (c *Coordinator) RefreshPresence(ctx context.Context, userID string, st presence.Status) {
	c.presence.Set(ctx, userID, st)
}

// Presence returns the user's status, offline when unknown.
func (c *Coordinator) Presence(ctx context.Context, userID string) presence.Status {
	return c.presence.Get(ctx, userID)
}

func (c *Coordinator) broadcastPresence(ctx context.Context, userID string, st presence.Status) {
	peers, err := c.db.Peers(ctx, userID)
	if err != nil {
		c.logger.Warn("load peers failed", zap.String("user", userID), zap.Error(err))
		return
	}
	c.fanout.ToUsers(ctx, peers, event.PresenceFrame(userID, string(st)))
}

func (c *Coordinator) toRecipients(ctx context.Context, conversationID, senderID string, frame event.Frame) {
	recipients, err := c.db.Recipients(ctx, conversationID, senderID)
	if err != nil {
		c.logger.Warn("load recipients failed",
			zap.String("conversation", conversationID), zap.String("type", frame.Type), zap.Error(err))
		return
	}
	local := c.fanout.ToUsers(ctx, recipients, frame)
	c.logger.Debug("fanned out",
		zap.String("conversation", conversationID),
		zap.String("type", frame.Type),
		zap.Int("recipients", len(recipients)),
		zap.Int("local_devices", local))
}

// validateUsers rejects ids that cannot safely name a relay topic.
func validateUsers(ids ...string) error {
	for _, id := range ids {
		if err := registry.ValidateID("user id", id); err != nil {
			return fmt.Errorf("%w: %v", store.ErrBadRequest, err)
		}
	}
	return nil
}
