package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/courier/internal/delivery"
	"github.com/matheus3301/courier/internal/registry"
)

// PresenceService answers presence lookups.
type PresenceService struct {
	coord *delivery.Coordinator
}

func NewPresenceService(coord *delivery.Coordinator) *PresenceService {
	return &PresenceService{coord: coord}
}

func (s *PresenceService) Register(r gin.IRoutes) {
	r.GET("/presence/:user_id", s.get)
}

type presenceResponse struct {
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

func (s *PresenceService) get(c *gin.Context) {
	userID := c.Param("user_id")
	if err := registry.ValidateID("user id", userID); err != nil {
		badRequest(c, err)
		return
	}
	st := s.coord.Presence(c.Request.Context(), userID)
	c.JSON(http.StatusOK, presenceResponse{UserID: userID, Status: string(st)})
}
