package app

import (
	"log/slog"
	"time"

	"thermowatch/internal/handlers"
	"thermowatch/internal/metrics"
	"thermowatch/internal/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type RouterDeps struct {
	Readings    *handlers.ReadingHandler
	Dashboard   *handlers.DashboardHandler
	System      *handlers.SystemHandler
	Metrics     *metrics.Metrics
	Limiter     *middleware.IPRateLimiter
	// Upstream caps routes that query the remote table on demand,
	// shared by all clients.
	Upstream    *rate.Limiter
	FrontendURL string
	Logger      *slog.Logger
}

// NewRouter mounts the dashboard page, the JSON API under /api/v1 and the
// health endpoints. Rate limiting is applied only when Limiter or Upstream
// is set.
func NewRouter(deps RouterDeps) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := gin.New()
	r.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.RequestLogger(deps.Logger),
		deps.Metrics.Middleware(),
	)

	origins := []string{"http://localhost:3000"}
	if deps.FrontendURL != "" && deps.FrontendURL != origins[0] {
		origins = append(origins, deps.FrontendURL)
	}
	r.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition", "X-Report-Rows", middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	if deps.Limiter != nil {
		r.Use(middleware.IPRateLimitMiddleware(deps.Limiter, deps.Logger))
	}

	var upstream gin.HandlerFunc = func(c *gin.Context) { c.Next() }
	if deps.Upstream != nil {
		upstream = middleware.RateLimitMiddleware(deps.Upstream, deps.Logger)
	}

	r.GET("/", deps.Dashboard.Index)
	r.GET("/live", deps.Dashboard.Live)
	r.POST("/range", upstream, deps.Dashboard.SubmitRange)
	r.GET("/health", deps.System.HealthCheck)
	r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))

	api := r.Group("/api/v1")
	{
		api.GET("/health", deps.System.HealthCheck)
		api.GET("/stats", deps.System.GetStats)
		api.GET("/polls", deps.System.GetPolls)

		readings := api.Group("/readings")
		readings.GET("", deps.Readings.GetSnapshot)
		readings.GET("/latest", deps.Readings.GetLatest)
		readings.POST("/refresh", upstream, deps.Readings.Refresh)
		readings.PUT("/range", upstream, deps.Readings.SetRange)
		readings.GET("/export", upstream, deps.Readings.Export)
		readings.GET("/history", deps.Readings.GetHistory)
	}

	return r
}
