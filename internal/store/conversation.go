package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const conversationColumns = `c.id, c.kind, c.name, c.created_by, c.last_message_at, c.created_at, c.updated_at`

func scanConversation(row scanner) (*Conversation, error) {
	var (
		c                  Conversation
		lastAt             sql.NullInt64
		createdAt, updated int64
	)
	if err := row.Scan(&c.ID, &c.Kind, &c.Name, &c.CreatedBy, &lastAt, &createdAt, &updated); err != nil {
		return nil, err
	}
	c.LastMessageAt = nullableTime(lastAt)
	c.CreatedAt = fromMicros(createdAt)
	c.UpdatedAt = fromMicros(updated)
	return &c, nil
}

// CreateDirect returns the direct conversation between two users, creating
// it when none exists. Concurrent calls for the same pair, in either order,
// resolve to the same row through the unique pair constraint. A side that
// had left gets its membership back.
func (db *DB) CreateDirect(ctx context.Context, userID, otherUserID string) (string, error) {
	if userID == "" || otherUserID == "" {
		return "", fmt.Errorf("%w: both users are required", ErrBadRequest)
	}
	if userID == otherUserID {
		return "", fmt.Errorf("%w: cannot open a direct conversation with yourself", ErrBadRequest)
	}
	low, high := userID, otherUserID
	if strings.Compare(low, high) > 0 {
		low, high = high, low
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := micros(db.clock())
	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, kind, name, created_by, direct_low, direct_high, created_at, updated_at)
		VALUES (?, 'direct', '', ?, ?, ?, ?, ?)
		ON CONFLICT(direct_low, direct_high) DO NOTHING`,
		uuid.NewString(), userID, low, high, now, now)
	if err != nil {
		return "", fmt.Errorf("insert direct conversation: %w", err)
	}

	var id string
	if err := tx.QueryRowContext(ctx,
		`SELECT id FROM conversations WHERE direct_low = ? AND direct_high = ?`, low, high,
	).Scan(&id); err != nil {
		return "", fmt.Errorf("fetch direct conversation: %w", err)
	}

	for _, uid := range []string{low, high} {
		if err := addMember(ctx, tx, id, uid, RoleMember, now); err != nil {
			return "", err
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit direct conversation: %w", err)
	}
	return id, nil
}

// CreateGroup creates a group owned by creatorID. memberIDs should already be
// distinct and exclude the creator; duplicates are ignored.
func (db *DB) CreateGroup(ctx context.Context, creatorID, name string, memberIDs []string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: group name is required", ErrBadRequest)
	}
	if creatorID == "" {
		return "", fmt.Errorf("%w: creator is required", ErrBadRequest)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	id := uuid.NewString()
	now := micros(db.clock())
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversations (id, kind, name, created_by, created_at, updated_at)
		VALUES (?, 'group', ?, ?, ?, ?)`,
		id, name, creatorID, now, now); err != nil {
		return "", fmt.Errorf("insert group: %w", err)
	}

	if err := addMember(ctx, tx, id, creatorID, RoleOwner, now); err != nil {
		return "", err
	}
	for _, uid := range memberIDs {
		if uid == "" || uid == creatorID {
			continue
		}
		if err := addMember(ctx, tx, id, uid, RoleMember, now); err != nil {
			return "", err
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit group: %w", err)
	}
	return id, nil
}

// addMember inserts an active membership unless one already exists.
func addMember(ctx context.Context, q querier, conversationID, userID string, role Role, now int64) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO participants (conversation_id, user_id, role, joined_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		conversationID, userID, role, now)
	if err != nil {
		return fmt.Errorf("insert participant %s: %w", userID, err)
	}
	return nil
}

// GetConversation returns the conversation with its active participants,
// the caller's unread count and the last visible message. A conversation the
// caller does not belong to is reported as not found.
func (db *DB) GetConversation(ctx context.Context, conversationID, userID string) (*Conversation, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations c
		JOIN participants p ON p.conversation_id = c.id AND p.user_id = ? AND p.left_at IS NULL
		WHERE c.id = ?`, userID, conversationID)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	if err := db.fillDetail(ctx, conv, userID); err != nil {
		return nil, err
	}
	return conv, nil
}

// ListConversations returns the caller's active conversations, most
// recently active first.
func (db *DB) ListConversations(ctx context.Context, userID string, limit, offset int) ([]*Conversation, error) {
	limit, offset = clampPage(limit, offset)
	rows, err := db.QueryContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations c
		JOIN participants p ON p.conversation_id = c.id
		WHERE p.user_id = ? AND p.left_at IS NULL
		ORDER BY COALESCE(c.last_message_at, c.created_at) DESC, c.id DESC
		LIMIT ? OFFSET ?`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	var convs []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	rows.Close()

	for _, conv := range convs {
		if err := db.fillDetail(ctx, conv, userID); err != nil {
			return nil, err
		}
	}
	return convs, nil
}

func (db *DB) fillDetail(ctx context.Context, conv *Conversation, userID string) error {
	participants, err := activeParticipants(ctx, db, conv.ID)
	if err != nil {
		return err
	}
	conv.Participants = participants

	unread, err := unreadCount(ctx, db, conv.ID, userID)
	if err != nil {
		return err
	}
	conv.UnreadCount = unread

	last, err := lastMessage(ctx, db, conv.ID)
	if err != nil {
		return err
	}
	conv.LastMessage = last
	return nil
}

// LeaveConversation ends the caller's active membership.
func (db *DB) LeaveConversation(ctx context.Context, conversationID, userID string) error {
	now := micros(db.clock())
	res, err := db.ExecContext(ctx, `
		UPDATE participants SET left_at = ?
		WHERE conversation_id = ? AND user_id = ? AND left_at IS NULL`,
		now, conversationID, userID)
	if err != nil {
		return fmt.Errorf("leave conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("leave conversation: %w", err)
	}
	if n == 0 {
		return ErrNotParticipant
	}
	return nil
}

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
