package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/matheus3301/courier/internal/registry"
	"github.com/matheus3301/courier/internal/session"
	"go.uber.org/zap"
)

// SessionService upgrades device connections to websocket sessions.
type SessionService struct {
	manager  *session.Manager
	upgrader websocket.Upgrader
	opts     session.WebsocketOptions
	logger   *zap.Logger
}

// NewSessionService creates a session service. Origin checks belong to the
// authenticating proxy, so every origin is accepted here.
func NewSessionService(m *session.Manager, opts session.WebsocketOptions, logger *zap.Logger) *SessionService {
	return &SessionService{
		manager: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		opts:   opts,
		logger: logger.Named("ws"),
	}
}

func (s *SessionService) Register(r gin.IRoutes) {
	r.GET("/ws", s.serve)
}

func (s *SessionService) serve(c *gin.Context) {
	key := deviceKeyOf(c)
	if err := registry.ValidateKey(key); err != nil {
		badRequest(c, err)
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already written the response.
		s.logger.Debug("upgrade failed", zap.Error(err))
		return
	}

	err = s.manager.Serve(c.Request.Context(), key, session.NewWebsocket(conn, s.opts))
	switch {
	case err == nil:
	case errors.Is(err, session.ErrShuttingDown):
		s.logger.Debug("session refused", zap.String("device", key.String()))
	default:
		s.logger.Info("session ended", zap.String("device", key.String()), zap.Error(err))
	}
}
