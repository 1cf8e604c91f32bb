package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/matheus3301/courier/internal/status"
)

const messageColumns = `id, conversation_id, sender_id, content_type, content, reply_to_id, sticker_id,
	status, created_at, updated_at, edited_at, deleted_at`

func scanMessage(row scanner) (*Message, error) {
	var (
		m                  Message
		st                 string
		createdAt, updated int64
		edited, deleted    sql.NullInt64
	)
	if err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.ContentType, &m.Content,
		&m.ReplyToID, &m.StickerID, &st, &createdAt, &updated, &edited, &deleted); err != nil {
		return nil, err
	}
	parsed, err := status.Parse(st)
	if err != nil {
		return nil, err
	}
	m.Status = parsed
	m.CreatedAt = fromMicros(createdAt)
	m.UpdatedAt = fromMicros(updated)
	m.EditedAt = nullableTime(edited)
	m.DeletedAt = nullableTime(deleted)
	return &m, nil
}

// NewMessage is the input to InsertMessage.
type NewMessage struct {
	ConversationID string
	SenderID       string
	ContentType    ContentType
	Content        []byte
	StickerID      string
	ReplyToID      string
}

// InsertMessage persists a message with status sent and advances the
// conversation's last_message_at. The sender must be an active participant.
func (db *DB) InsertMessage(ctx context.Context, in NewMessage) (*Message, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	ok, err := isActiveParticipant(ctx, tx, in.ConversationID, in.SenderID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotParticipant
	}

	if in.ReplyToID != "" {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM messages WHERE id = ? AND conversation_id = ?)`,
			in.ReplyToID, in.ConversationID,
		).Scan(&exists); err != nil {
			return nil, fmt.Errorf("check reply target: %w", err)
		}
		if !exists {
			return nil, fmt.Errorf("%w: reply target %s is not in this conversation", ErrBadRequest, in.ReplyToID)
		}
	}

	content := in.Content
	if content == nil {
		content = []byte{}
	}
	now := db.clock()
	msg := &Message{
		ID:             uuid.NewString(),
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		ContentType:    in.ContentType,
		Content:        content,
		ReplyToID:      in.ReplyToID,
		StickerID:      in.StickerID,
		Status:         status.Sent,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if msg.ContentType == "" {
		msg.ContentType = ContentText
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, content_type, content, reply_to_id, sticker_id,
			status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.SenderID, msg.ContentType, msg.Content, msg.ReplyToID, msg.StickerID,
		msg.Status, micros(now), micros(now)); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE conversations
		SET last_message_at = MAX(COALESCE(last_message_at, 0), ?), updated_at = ?
		WHERE id = ?`, micros(now), micros(now), msg.ConversationID); err != nil {
		return nil, fmt.Errorf("advance last_message_at: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit message: %w", err)
	}
	return msg, nil
}

func getMessage(ctx context.Context, q querier, messageID string, includeDeleted bool) (*Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = ?`
	if !includeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	msg, err := scanMessage(q.QueryRowContext(ctx, query, messageID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return msg, nil
}

// GetMessage returns an undeleted message by id.
func (db *DB) GetMessage(ctx context.Context, messageID string) (*Message, error) {
	return getMessage(ctx, db, messageID, false)
}

// MessagePage selects a window of a conversation's history. BeforeID, when
// set, restricts the window to messages strictly older than that message.
type MessagePage struct {
	Limit    int
	Offset   int
	BeforeID string
}

// ListMessages returns undeleted messages newest first. The caller must be
// an active participant.
func (db *DB) ListMessages(ctx context.Context, conversationID, userID string, page MessagePage) ([]*Message, error) {
	ok, err := isActiveParticipant(ctx, db, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotParticipant
	}

	limit, offset := clampPage(page.Limit, page.Offset)
	query := `SELECT ` + messageColumns + ` FROM messages WHERE conversation_id = ? AND deleted_at IS NULL`
	args := []any{conversationID}

	if page.BeforeID != "" {
		var anchor int64
		err := db.QueryRowContext(ctx,
			`SELECT created_at FROM messages WHERE id = ? AND conversation_id = ?`,
			page.BeforeID, conversationID,
		).Scan(&anchor)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMessageNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("load anchor: %w", err)
		}
		query += ` AND created_at < ?`
		args = append(args, anchor)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// SoftDeleteMessage marks the sender's own message deleted and returns it.
// Any other caller, or an already deleted message, yields ErrMessageNotFound.
func (db *DB) SoftDeleteMessage(ctx context.Context, messageID, senderID string) (*Message, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := micros(db.clock())
	res, err := tx.ExecContext(ctx, `
		UPDATE messages SET deleted_at = ?, updated_at = ?
		WHERE id = ? AND sender_id = ? AND deleted_at IS NULL`,
		now, now, messageID, senderID)
	if err != nil {
		return nil, fmt.Errorf("delete message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("delete message: %w", err)
	}
	if n == 0 {
		return nil, ErrMessageNotFound
	}

	msg, err := getMessage(ctx, tx, messageID, true)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit delete: %w", err)
	}
	return msg, nil
}

func lastMessage(ctx context.Context, q querier, conversationID string) (*Message, error) {
	msg, err := scanMessage(q.QueryRowContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = ? AND deleted_at IS NULL
		ORDER BY created_at DESC, id DESC LIMIT 1`, conversationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last message: %w", err)
	}
	return msg, nil
}

func unreadCount(ctx context.Context, q querier, conversationID, userID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages m
		WHERE m.conversation_id = ? AND m.sender_id != ? AND m.deleted_at IS NULL
		  AND NOT EXISTS (
			SELECT 1 FROM receipts r
			WHERE r.message_id = m.id AND r.user_id = ? AND r.kind = 'read'
		  )`, conversationID, userID, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("unread count: %w", err)
	}
	return n, nil
}

// UnreadCount counts undeleted messages from other senders that userID has
// not read. The caller must be an active participant.
func (db *DB) UnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	ok, err := isActiveParticipant(ctx, db, conversationID, userID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrNotParticipant
	}
	return unreadCount(ctx, db, conversationID, userID)
}
