package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/matheus3301/courier/internal/status"
)

// ReceiptResult reports the outcome of RecordReceipt.
type ReceiptResult struct {
	// Message reflects the status after the receipt was applied.
	Message *Message
	// Recorded is true when a receipt of the requested kind was new.
	Recorded bool
	// Advanced is true when the message status moved forward.
	Advanced bool
}

// RecordReceipt stores an acknowledgment and advances the message status.
// Repeating a receipt is a no-op. A read receipt also records delivered.
// The sender acknowledging their own message changes nothing.
func (db *DB) RecordReceipt(ctx context.Context, messageID, userID string, kind ReceiptKind) (*ReceiptResult, error) {
	if _, err := ParseReceiptKind(string(kind)); err != nil {
		return nil, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	msg, err := getMessage(ctx, tx, messageID, false)
	if err != nil {
		return nil, err
	}
	ok, err := isActiveParticipant(ctx, tx, msg.ConversationID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotParticipant
	}
	result := &ReceiptResult{Message: msg}
	if msg.SenderID == userID {
		return result, nil
	}

	kinds := []ReceiptKind{kind}
	if kind == ReceiptRead {
		kinds = []ReceiptKind{ReceiptDelivered, ReceiptRead}
	}
	now := micros(db.clock())
	for _, k := range kinds {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO receipts (message_id, user_id, kind, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT DO NOTHING`, messageID, userID, k, now)
		if err != nil {
			return nil, fmt.Errorf("insert %s receipt: %w", k, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("insert %s receipt: %w", k, err)
		}
		if k == kind && n > 0 {
			result.Recorded = true
		}
	}

	target := kind.Status()
	sources := status.Sources(target)
	args := []any{target, now, messageID}
	for _, s := range sources {
		args = append(args, s)
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE messages SET status = ?, updated_at = ?
		WHERE id = ? AND status IN (`+placeholders(len(sources))+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("advance status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("advance status: %w", err)
	}
	if n > 0 {
		result.Advanced = true
		msg.Status = target
		msg.UpdatedAt = fromMicros(now)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit receipt: %w", err)
	}
	return result, nil
}

// Receipts lists every acknowledgment recorded for a message.
func (db *DB) Receipts(ctx context.Context, messageID string) ([]Receipt, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT message_id, user_id, kind, created_at FROM receipts
		WHERE message_id = ?
		ORDER BY created_at, user_id, kind`, messageID)
	if err != nil {
		return nil, fmt.Errorf("list receipts: %w", err)
	}
	defer rows.Close()

	var out []Receipt
	for rows.Next() {
		var (
			r  Receipt
			at int64
		)
		if err := rows.Scan(&r.MessageID, &r.UserID, &r.Kind, &at); err != nil {
			return nil, fmt.Errorf("scan receipt: %w", err)
		}
		r.CreatedAt = fromMicros(at)
		out = append(out, r)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	if n <= 0 {
		return "NULL"
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
