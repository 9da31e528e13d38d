package http

import (
	stdhttp "net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiredm/internal/auth"
	"github.com/vovakirdan/wiredm/internal/config"
	"github.com/vovakirdan/wiredm/internal/core"
	"github.com/vovakirdan/wiredm/internal/media"
	"github.com/vovakirdan/wiredm/internal/service/messages"
)

// Deps are the services the HTTP surface is built on.
type Deps struct {
	Hub      *core.Hub
	Auth     *auth.Service
	Messages *messages.Service
	Media    *media.Store
	// Gatherer backs /metrics. The route is not mounted when nil.
	Gatherer prometheus.Gatherer
}

// NewServer builds an HTTP server with the REST, websocket and support routes.
// The websocket endpoint is served by the plain mux; gin's response writer wraps the
// hijacked connection and corrupts frames.
func NewServer(deps Deps, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	router.GET("/health", healthHandler)
	if cfg.MetricsEnabled && deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}
	if deps.Media != nil {
		router.Static(strings.TrimSuffix(media.PublicPrefix, "/"), deps.Media.Dir())
	}

	// Sends and websocket commands draw from separate buckets.
	limiter := newRateLimiter(cfg.SendRatePerSecond, cfg.SendRateBurst)
	wsLimiter := newRateLimiter(cfg.SendRatePerSecond, cfg.SendRateBurst)

	apiHandlers := NewAPIHandlers(deps.Auth, logger)
	userHandlers := NewUserHandlers(deps.Messages, logger)
	messageHandlers := NewMessageHandlers(deps.Messages, deps.Media, logger)

	api := router.Group("/api")
	api.POST("/register", apiHandlers.Register)
	api.POST("/login", apiHandlers.Login)

	authed := api.Group("")
	authed.Use(AuthMiddleware(deps.Auth, logger))
	authed.GET("/users", userHandlers.ListPartners)
	authed.GET("/conversations/:id", messageHandlers.History)
	authed.POST("/conversations/:id/messages", rateLimitMiddleware(limiter), messageHandlers.Send)
	authed.POST("/conversations/:id/read", messageHandlers.MarkRead)
	authed.GET("/messages/last", messageHandlers.LastMessages)
	authed.GET("/messages/unread", messageHandlers.UnreadCounts)
	authed.PATCH("/messages/:id", messageHandlers.Edit)
	authed.DELETE("/messages/:id", messageHandlers.Delete)

	mux := stdhttp.NewServeMux()
	mux.Handle("/ws", NewWSHandler(deps.Hub, deps.Auth, deps.Messages, wsLimiter, cfg, logger))
	mux.Handle("/", router)

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
