package api

import (
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/d60-Lab/fedrelay/config"
	"github.com/d60-Lab/fedrelay/internal/api/handler"
	"github.com/d60-Lab/fedrelay/internal/api/middleware"
)

// NewRouter 组装 gin 路由
func NewRouter(cfg *config.Config, h *handler.Handler) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gzip.Gzip(gzip.DefaultCompression))
	if cfg.Sentry.DSN != "" {
		r.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	}
	if cfg.Tracing.Enabled {
		r.Use(otelgin.Middleware(cfg.Tracing.Service))
	}

	r.GET("/healthz", h.Health)

	inbox := r.Group("/")
	if cfg.Federation.InboxRate > 0 {
		inbox.Use(middleware.RateLimit(cfg.Federation.InboxRate, cfg.Federation.InboxBurst))
	}
	inbox.POST("/inbox", h.Inbox)

	r.POST("/outbox", h.CreateObject)
	r.GET("/objects/:id", h.GetObject)
	r.GET("/objects/:id/activity", h.GetActivity)

	return r
}
