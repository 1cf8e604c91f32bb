package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/courier/internal/store"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotParticipant):
		return http.StatusForbidden
	case errors.Is(err, store.ErrConversationNotFound), errors.Is(err, store.ErrMessageNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with its mapped status. Internal errors are not echoed.
func fail(c *gin.Context, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		_ = c.Error(err)
		msg = "internal error"
	}
	c.AbortWithStatusJSON(code, gin.H{"error": msg})
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
