package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/handler"
	"github.com/stemsi/exstem-attempt/internal/metrics"
	"github.com/stemsi/exstem-attempt/internal/middleware"
	"github.com/stemsi/exstem-attempt/internal/response"
	"github.com/stemsi/exstem-attempt/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Attempt *handler.AttemptHandler
	WS      *handler.WSHandler
	System  *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	m *metrics.Metrics,
	limiter *middleware.RateLimiter,
	cfg *config.Config,
	log zerolog.Logger,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Request IDs and metrics apply to every route, probes included.
	router.Use(response.RequestIDMiddleware(log))
	router.Use(m.Middleware())
	router.Use(middleware.Brotli())

	router.GET("/health", handlers.System.Health)
	router.GET("/ready", handlers.System.Ready)
	router.GET("/metrics", m.Handler())

	// ─── Candidate API ─────────────────────────────────────────────────
	api := router.Group("/api/v1")
	api.Use(middleware.RequireCandidateJWT(authService))
	api.Use(limiter.Middleware())
	api.Use(middleware.NoStore())
	{
		api.POST("/tests/:test_id/attempts", handlers.Attempt.Start)

		attempts := api.Group("/attempts/:attempt_id")
		{
			attempts.GET("/state", handlers.Attempt.State)
			attempts.PUT("/navigate", handlers.Attempt.Navigate)
			attempts.PUT("/answer", handlers.Attempt.Answer)
			attempts.DELETE("/answer", handlers.Attempt.Clear)
			attempts.POST("/review", handlers.Attempt.Review)
			attempts.POST("/submit", handlers.Attempt.Submit)
			attempts.GET("/result", handlers.Attempt.Result)
		}
	}

	// ─── WebSocket ─────────────────────────────────────────────────────
	wsGroup := router.Group("/ws/v1")
	wsGroup.Use(middleware.RequireCandidateWSAuth(authService))
	{
		wsGroup.GET("/attempts/:attempt_id/stream", handlers.WS.AttemptStream)
	}

	return router
}
