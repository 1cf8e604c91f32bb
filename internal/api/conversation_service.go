package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/courier/internal/delivery"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

type pageQuery struct {
	Limit  int `form:"limit" binding:"omitempty,min=0"`
	Offset int `form:"offset" binding:"omitempty,min=0"`
}

func (q pageQuery) limit() int {
	switch {
	case q.Limit <= 0:
		return defaultLimit
	case q.Limit > maxLimit:
		return maxLimit
	}
	return q.Limit
}

// ConversationService serves conversation lifecycle routes.
type ConversationService struct {
	coord *delivery.Coordinator
}

// NewConversationService creates a conversation service backed by the coordinator.
func NewConversationService(coord *delivery.Coordinator) *ConversationService {
	return &ConversationService{coord: coord}
}

func (s *ConversationService) Register(r gin.IRoutes) {
	r.GET("/conversations", s.list)
	r.POST("/conversations/direct", s.createDirect)
	r.POST("/conversations/group", s.createGroup)
	r.GET("/conversations/:id", s.get)
	r.POST("/conversations/:id/leave", s.leave)
	r.POST("/conversations/:id/typing", s.typing)
}

type listConversationsResponse struct {
	Conversations []conversationView `json:"conversations"`
	PageInfo      pageInfo           `json:"page_info"`
}

func (s *ConversationService) list(c *gin.Context) {
	var q pageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}
	limit := q.limit()

	convs, err := s.coord.ListConversations(c.Request.Context(), callerID(c), limit, q.Offset)
	if err != nil {
		fail(c, err)
		return
	}

	out := make([]conversationView, 0, len(convs))
	for _, conv := range convs {
		out = append(out, conversationToView(conv))
	}
	c.JSON(http.StatusOK, listConversationsResponse{
		Conversations: out,
		PageInfo:      pageInfo{HasMore: len(convs) == limit},
	})
}

type createDirectRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

func (s *ConversationService) createDirect(c *gin.Context) {
	var req createDirectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	conv, err := s.coord.CreateDirect(c.Request.Context(), callerID(c), req.UserID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, conversationToView(conv))
}

type createGroupRequest struct {
	Name      string   `json:"name" binding:"required"`
	MemberIDs []string `json:"member_ids"`
}

func (s *ConversationService) createGroup(c *gin.Context) {
	var req createGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	conv, err := s.coord.CreateGroup(c.Request.Context(), callerID(c), req.Name, req.MemberIDs)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, conversationToView(conv))
}

func (s *ConversationService) get(c *gin.Context) {
	conv, err := s.coord.GetConversation(c.Request.Context(), c.Param("id"), callerID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, conversationToView(conv))
}

func (s *ConversationService) leave(c *gin.Context) {
	if err := s.coord.LeaveConversation(c.Request.Context(), c.Param("id"), callerID(c)); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type typingRequest struct {
	IsTyping bool `json:"is_typing"`
}

func (s *ConversationService) typing(c *gin.Context) {
	var req typingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.coord.BroadcastTyping(c.Request.Context(), c.Param("id"), callerID(c), req.IsTyping); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}
