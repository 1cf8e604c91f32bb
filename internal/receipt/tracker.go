// Package receipt records delivered/read acknowledgments and reports them
// back to the sender.
package receipt

import (
	"context"

	"github.com/matheus3301/courier/internal/event"
	"github.com/matheus3301/courier/internal/fanout"
	"github.com/matheus3301/courier/internal/store"
	"go.uber.org/zap"
)

// Tracker applies receipts. Repeated receipts are no-ops and a message
// status never moves backwards.
type Tracker struct {
	db     *store.DB
	fanout *fanout.Dispatcher
	logger *zap.Logger
}

// New creates a tracker.
func New(db *store.DB, d *fanout.Dispatcher, logger *zap.Logger) *Tracker {
	return &Tracker{db: db, fanout: d, logger: logger.Named("receipt")}
}

// MarkDelivered records that userID received messageID.
func (t *Tracker) MarkDelivered(ctx context.Context, messageID, userID string) (*store.ReceiptResult, error) {
	return t.Mark(ctx, messageID, userID, store.ReceiptDelivered)
}

// MarkRead records that userID read messageID. It implies delivered.
func (t *Tracker) MarkRead(ctx context.Context, messageID, userID string) (*store.ReceiptResult, error) {
	return t.Mark(ctx, messageID, userID, store.ReceiptRead)
}

// Mark records a receipt of the given kind. When the receipt is new the
// sender's devices get a receipt event carrying the resulting status.
func (t *Tracker) Mark(ctx context.Context, messageID, userID string, kind store.ReceiptKind) (*store.ReceiptResult, error) {
	res, err := t.db.RecordReceipt(ctx, messageID, userID, kind)
	if err != nil {
		return nil, err
	}
	if !res.Recorded {
		return res, nil
	}
	msg := res.Message
	t.fanout.ToUser(ctx, msg.SenderID, event.ReceiptFrame(event.Receipt{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		UserID:         userID,
		Kind:           string(kind),
		Status:         string(msg.Status),
	}))
	t.logger.Debug("receipt recorded",
		zap.String("message", msg.ID),
		zap.String("user", userID),
		zap.String("kind", string(kind)),
		zap.Bool("advanced", res.Advanced))
	return res, nil
}

// UnreadCount counts messages in the conversation userID has not read.
func (t *Tracker) UnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	return t.db.UnreadCount(ctx, conversationID, userID)
}
