// Package v1 provides HTTP API version 1.
package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"rangescan/internal/domain/admin"
	"rangescan/internal/domain/auth"
	"rangescan/internal/infrastructure/http/v1/handlers"
	"rangescan/internal/infrastructure/http/v1/middleware"
	"rangescan/pkg/logger"
)

// RouterConfig holds router configuration.
type RouterConfig struct {
	// Logger for request logging
	Logger *logger.Logger

	// JWTValidator for admin tokens; nil disables the admin API
	JWTValidator middleware.JWTValidator

	// Admin serves range administration
	Admin *admin.Service

	// Scheduler backs GET /status; nil when the process runs no scheduler
	Scheduler handlers.SchedulerView

	// Control backs the pause/resume admin routes; nil leaves them unmounted
	Control handlers.SchedulerControl

	// Health dependencies checked by /health/ready
	Checks map[string]handlers.Pinger

	// Info adds fields to /health/info
	Info func() map[string]any

	// Metrics is served on /metrics when set
	Metrics http.Handler

	Version string
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Global middleware (order matters!)
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger, "/health/live", "/metrics"))
	router.Use(middleware.ErrorHandler())

	healthHandler := handlers.NewHealthHandler("rangescan", cfg.Version, cfg.Checks, cfg.Info)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/ready", healthHandler.Ready)
		health.GET("/info", healthHandler.Info)
	}

	if cfg.Scheduler != nil {
		router.GET("/status", handlers.NewStatusHandler(cfg.Scheduler).Get)
	}
	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics))
	}

	if cfg.Admin != nil && cfg.JWTValidator != nil {
		v1 := router.Group("/api/v1")
		v1.Use(middleware.Auth(cfg.JWTValidator))

		rangeHandler := handlers.NewRangeHandler(handlers.NewBaseHandler(), cfg.Admin)
		RegisterRangeRoutes(v1.Group("/ranges"), rangeHandler)

		if cfg.Control != nil {
			control := handlers.NewControlHandler(cfg.Control)
			sched := v1.Group("/scheduler", middleware.RequireRole(auth.RoleOperator))
			sched.POST("/pause", control.Pause)
			sched.POST("/resume", control.Resume)
		}
	}

	return router
}

// RangeRouteHandler defines the handlers behind the range routes.
type RangeRouteHandler interface {
	List(c *gin.Context)
	Summary(c *gin.Context)
	Get(c *gin.Context)
	Create(c *gin.Context)
	ChangeStatus(c *gin.Context)
	Attempts(c *gin.Context)
}

// RegisterRangeRoutes registers the range admin routes. Reads need any role;
// writes need the operator role.
func RegisterRangeRoutes(group *gin.RouterGroup, handler RangeRouteHandler) {
	read := middleware.RequireRole(auth.RoleViewer, auth.RoleOperator)
	write := middleware.RequireRole(auth.RoleOperator)

	group.GET("", read, handler.List)
	group.POST("", write, handler.Create)
	group.GET("/summary", read, handler.Summary)
	group.GET("/:key", read, handler.Get)
	group.GET("/:key/attempts", read, handler.Attempts)
	group.PATCH("/:key/status", write, handler.ChangeStatus)
}
