package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/textback/notify-api/internal/handler"
	"github.com/textback/notify-api/internal/middleware"
)

// Handler registers a route group.
type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

// WebhookHandler additionally exposes unauthenticated provider callbacks.
type WebhookHandler interface {
	Handler
	RegisterWebhookRoutes(*gin.RouterGroup)
}

type Router struct {
	engine        *gin.Engine
	notificationH Handler
	smsH          WebhookHandler
	healthH       *handler.HealthHandler
}

func NewRouter(notificationH Handler, smsH WebhookHandler, healthH *handler.HealthHandler) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	engine.Use(
		middleware.RequestID(),
		middleware.Logger(),
		middleware.Recovery(),
		middleware.ErrorHandler(),
	)

	r := &Router{
		engine:        engine,
		notificationH: notificationH,
		smsH:          smsH,
		healthH:       healthH,
	}
	r.registerRoutes()
	return r
}

func (r *Router) registerRoutes() {
	r.engine.GET("/health", r.healthH.HealthCheck)
	r.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.engine.Group("/api/v1")
	r.notificationH.RegisterRoutes(api)
	r.smsH.RegisterRoutes(api)

	webhooks := r.engine.Group("/webhooks")
	r.smsH.RegisterWebhookRoutes(webhooks)
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
