package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/courier/internal/delivery"
	"github.com/matheus3301/courier/internal/event"
	"github.com/matheus3301/courier/internal/receipt"
	"github.com/matheus3301/courier/internal/store"
)

// MessageService serves message history, sending, deletion and receipts.
type MessageService struct {
	coord    *delivery.Coordinator
	receipts *receipt.Tracker
}

// NewMessageService creates a message service.
func NewMessageService(coord *delivery.Coordinator, receipts *receipt.Tracker) *MessageService {
	return &MessageService{coord: coord, receipts: receipts}
}

func (s *MessageService) Register(r gin.IRoutes) {
	r.GET("/conversations/:id/messages", s.list)
	r.POST("/conversations/:id/messages", s.send)
	r.GET("/conversations/:id/unread", s.unread)
	r.DELETE("/messages/:id", s.delete)
	r.POST("/messages/:id/delivered", s.mark(store.ReceiptDelivered))
	r.POST("/messages/:id/read", s.mark(store.ReceiptRead))
}

type messagePageQuery struct {
	pageQuery
	Before string `form:"before"`
}

type listMessagesResponse struct {
	Messages []event.Message `json:"messages"`
	PageInfo pageInfo        `json:"page_info"`
}

func (s *MessageService) list(c *gin.Context) {
	var q messagePageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}
	limit := q.limit()

	msgs, err := s.coord.ListMessages(c.Request.Context(), c.Param("id"), callerID(c), store.MessagePage{
		Limit:    limit,
		Offset:   q.Offset,
		BeforeID: q.Before,
	})
	if err != nil {
		fail(c, err)
		return
	}

	out := make([]event.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, event.MessageView(m))
	}
	c.JSON(http.StatusOK, listMessagesResponse{
		Messages: out,
		PageInfo: pageInfo{HasMore: len(msgs) == limit},
	})
}

// sendRequest carries opaque content, base64 encoded in JSON.
type sendRequest struct {
	Type      string `json:"type"`
	Content   []byte `json:"content"`
	StickerID string `json:"sticker_id"`
	ReplyToID string `json:"reply_to_id"`
}

func (s *MessageService) send(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	msg, err := s.coord.Send(c.Request.Context(), delivery.SendRequest{
		ConversationID: c.Param("id"),
		SenderID:       callerID(c),
		Type:           req.Type,
		Content:        req.Content,
		StickerID:      req.StickerID,
		ReplyToID:      req.ReplyToID,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, event.MessageView(msg))
}

func (s *MessageService) delete(c *gin.Context) {
	if err := s.coord.DeleteMessage(c.Request.Context(), c.Param("id"), callerID(c)); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type receiptResponse struct {
	Message  event.Message `json:"message"`
	Recorded bool          `json:"recorded"`
}

func (s *MessageService) mark(kind store.ReceiptKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := s.receipts.Mark(c.Request.Context(), c.Param("id"), callerID(c), kind)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, receiptResponse{
			Message:  event.MessageView(res.Message),
			Recorded: res.Recorded,
		})
	}
}

type unreadResponse struct {
	ConversationID string `json:"conversation_id"`
	UnreadCount    int    `json:"unread_count"`
}

func (s *MessageService) unread(c *gin.Context) {
	n, err := s.receipts.UnreadCount(c.Request.Context(), c.Param("id"), callerID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, unreadResponse{ConversationID: c.Param("id"), UnreadCount: n})
}
