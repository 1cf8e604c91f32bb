package api

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Service registers a group of routes.
type Service interface {
	Register(r gin.IRoutes)
}

// HealthFunc reports whether the node can serve requests.
type HealthFunc func(ctx context.Context) error

// NewRouter mounts every service under /api/v1 behind the identity
// middleware and adds an unauthenticated /healthz. Browser origins listed in
// origins get CORS headers; "*" allows any.
func NewRouter(logger *zap.Logger, health HealthFunc, origins []string, services ...Service) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger.Named("http")))
	if len(origins) > 0 {
		r.Use(corsMiddleware(origins))
	}

	r.GET("/healthz", func(c *gin.Context) {
		if err := health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1", identity())
	for _, s := range services {
		s.Register(v1)
	}
	return r
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("user", c.GetString(userKey)))
	}
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", HeaderUserID, HeaderDeviceID},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}
