package router

import (
	"context"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-client/internal/config"
	"github.com/stemsi/exstem-client/internal/handler"
	"github.com/stemsi/exstem-client/internal/middleware"
	"github.com/stemsi/exstem-client/internal/response"
	"github.com/stemsi/exstem-client/internal/service"
)

// startRate bounds how many sessions one caller may open per minute.
const startRate = 10

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Session *handler.SessionHandler
	WS      *handler.WSHandler
	Monitor *handler.MonitorHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// ctx bounds the lifetime of background middleware state.
func SetupRouter(
	ctx context.Context,
	sessions *service.ExamSessionService,
	handlers *Handlers,
	cfg *config.Config,
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
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(response.RequestIDMiddleware())
	router.Use(middleware.Brotli())

	router.GET("/health", handlers.Monitor.Health)

	startLimiter := middleware.NewRateLimiter(ctx, startRate, time.Minute)
	loadSession := middleware.LoadSession(sessions)

	// ─── 1. Session Group (Bearer) ─────────────────────────────────────
	api := router.Group("/api/v1")
	api.Use(middleware.RequireBearer(), middleware.NoStore())
	{
		api.POST("/sessions", startLimiter.Middleware(), handlers.Session.StartSession)

		s := api.Group("/sessions/:id", loadSession)
		{
			s.GET("", handlers.Session.GetSession)
			s.POST("/next", handlers.Session.Next)
			s.POST("/previous", handlers.Session.Previous)
			s.POST("/answers", handlers.Session.SelectAnswer)
			s.POST("/submit", handlers.Session.Submit)
			s.GET("/result", handlers.Session.GetResult)
			s.GET("/monitor", handlers.Monitor.SessionEvents)
		}

		api.GET("/history", handlers.Session.History)
		api.GET("/results", handlers.Session.ArchivedResults)
		api.GET("/results/:session_id", handlers.Session.ArchivedResult)
	}

	// ─── 2. WebSocket Group (Bearer via header or ?token=) ─────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireBearer())
	{
		ws.GET("/sessions/:id/stream", loadSession, handlers.WS.SessionStream)
	}

	return router
}
