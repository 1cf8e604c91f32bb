package api

import (
	"time"

	"github.com/matheus3301/courier/internal/event"
	"github.com/matheus3301/courier/internal/store"
)

type participantView struct {
	UserID   string    `json:"user_id"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

type conversationView struct {
	ID            string            `json:"id"`
	Kind          string            `json:"kind"`
	Name          string            `json:"name,omitempty"`
	CreatedBy     string            `json:"created_by"`
	CreatedAt     time.Time         `json:"created_at"`
	LastMessageAt *time.Time        `json:"last_message_at,omitempty"`
	Participants  []participantView `json:"participants"`
	UnreadCount   int               `json:"unread_count"`
	LastMessage   *event.Message    `json:"last_message,omitempty"`
}

func conversationToView(c *store.Conversation) conversationView {
	v := conversationView{
		ID:            c.ID,
		Kind:          string(c.Kind),
		Name:          c.Name,
		CreatedBy:     c.CreatedBy,
		CreatedAt:     c.CreatedAt,
		LastMessageAt: c.LastMessageAt,
		Participants:  make([]participantView, 0, len(c.Participants)),
		UnreadCount:   c.UnreadCount,
	}
	for _, p := range c.Participants {
		v.Participants = append(v.Participants, participantView{
			UserID:   p.UserID,
			Role:     string(p.Role),
			JoinedAt: p.JoinedAt,
		})
	}
	if c.LastMessage != nil {
		m := event.MessageView(c.LastMessage)
		v.LastMessage = &m
	}
	return v
}

type pageInfo struct {
	HasMore bool `json:"has_more"`
}
