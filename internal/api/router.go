package api

import (
	"fmt"

	"github.com/RichardoC/chatpipe/internal/logging"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type RouterConfig struct {
	JWTSecret      string
	TrustedProxies []string
	Gatherer       prometheus.Gatherer
}

// NewRouter mounts the public health and metrics routes and the authenticated API.
func NewRouter(h *Handler, cfg RouterConfig, logger *zap.Logger) (*gin.Engine, error) {
	r := gin.New()
	r.Use(logging.GinRecovery(logger), logging.GinLogger(logger))

	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("failed to set trusted proxies: %w", err)
	}

	r.GET("/health", h.Health)
	r.GET("/api/health", h.Health)
	if cfg.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	authed := r.Group("/api", JWTAuth(cfg.JWTSecret))
	authed.POST("/chat", h.Chat)
	authed.GET("/usage", h.GetUsage)

	conversations := authed.Group("/conversations")
	conversations.GET("", h.GetConversations)
	conversations.POST("", h.CreateConversation)
	conversations.GET("/:id/messages", h.GetMessages)
	conversations.PATCH("/:id", h.UpdateConversation)
	conversations.DELETE("/:id", h.DeleteConversation)

	notes := authed.Group("/notes")
	notes.GET("", h.ListNotes)
	notes.POST("", h.CreateNote)
	notes.GET("/:id", h.GetNote)
	notes.PATCH("/:id", h.UpdateNote)
	notes.DELETE("/:id", h.DeleteNote)

	return r, nil
}
