package store

import (
	"context"
	"database/sql"
	"fmt"
)

func isActiveParticipant(ctx context.Context, q querier, conversationID, userID string) (bool, error) {
	var ok bool
	err := q.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM participants
			WHERE conversation_id = ? AND user_id = ? AND left_at IS NULL
		)`, conversationID, userID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check participant: %w", err)
	}
	return ok, nil
}

// IsParticipant reports whether userID holds an active membership.
func (db *DB) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	return isActiveParticipant(ctx, db, conversationID, userID)
}

func activeParticipants(ctx context.Context, q querier, conversationID string) ([]Participant, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT conversation_id, user_id, role, joined_at, left_at, muted_until
		FROM participants
		WHERE conversation_id = ? AND left_at IS NULL
		ORDER BY joined_at, user_id`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var out []Participant
	for rows.Next() {
		var (
			p          Participant
			joined     int64
			left, mute sql.NullInt64
		)
		if err := rows.Scan(&p.ConversationID, &p.UserID, &p.Role, &joined, &left, &mute); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		p.JoinedAt = fromMicros(joined)
		p.LeftAt = nullableTime(left)
		p.MutedUntil = nullableTime(mute)
		out = append(out, p)
	}
	return out, rows.Err()
}

// Participants lists the active members of a conversation.
func (db *DB) Participants(ctx context.Context, conversationID string) ([]Participant, error) {
	return activeParticipants(ctx, db, conversationID)
}

// Recipients returns the active members of a conversation other than
// excludeUserID.
func (db *DB) Recipients(ctx context.Context, conversationID, excludeUserID string) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT user_id FROM participants
		WHERE conversation_id = ? AND left_at IS NULL AND user_id != ?
		ORDER BY user_id`, conversationID, excludeUserID)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	return scanStrings(rows)
}

// Peers returns every user sharing at least one active conversation with
// userID, not including userID.
func (db *DB) Peers(ctx context.Context, userID string) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT DISTINCT other.user_id
		FROM participants me
		JOIN participants other ON other.conversation_id = me.conversation_id
		WHERE me.user_id = ? AND me.left_at IS NULL
		  AND other.left_at IS NULL AND other.user_id != ?
		ORDER BY other.user_id`, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("list peers: %w", err)
	}
	return scanStrings(rows)
}
