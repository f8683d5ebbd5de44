package api

import (
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/luckyjinx/matching-service/internal/api/handlers"
	"github.com/luckyjinx/matching-service/internal/api/middleware"
	"github.com/luckyjinx/matching-service/internal/config"
	"github.com/luckyjinx/matching-service/internal/metrics"
	"github.com/luckyjinx/matching-service/internal/service"
	"github.com/luckyjinx/matching-service/internal/websocket"
	"github.com/luckyjinx/matching-service/pkg/ratelimit"
	"go.uber.org/zap"
)

// Dependencies 라우터가 사용하는 컴포넌트
type Dependencies struct {
	MatchingService *service.MatchingService
	Hub             *websocket.Hub
	Limiter         ratelimit.Limiter // nil이면 제출 Rate Limit 없음
	Metrics         *metrics.Collector
	Logger          *zap.Logger
}

// SetupRouter API 라우터 설정
func SetupRouter(cfg *config.Config, deps Dependencies) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	registerValidators()

	router := gin.New()

	// 전역 미들웨어
	router.Use(ginzap.Ginzap(deps.Logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(deps.Logger, true))
	router.Use(middleware.Logger())
	router.Use(cors.New(corsConfig(cfg.CORSAllowedOrigins)))

	matchingHandler := handlers.NewMatchingHandler(deps.MatchingService)
	healthHandler := handlers.NewHealthHandler(deps.MatchingService)

	submitLimit := func(c *gin.Context) { c.Next() }
	if deps.Limiter != nil {
		submitLimit = middleware.RateLimit(deps.Limiter, middleware.RequesterKeyFunc)
	}

	// Health check
	router.GET("/health", healthHandler.HealthCheck)
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	// API v1
	v1 := router.Group("/api/v1")
	{
		if deps.Hub != nil {
			wsHandler := handlers.NewWebSocketHandler(deps.Hub)
			v1.GET("/ws", wsHandler.HandleWebSocket)
		}

		matching := v1.Group("/matching")
		{
			matching.POST("/requests", submitLimit, matchingHandler.Submit)
			matching.POST("/requests/async", submitLimit, matchingHandler.SubmitAsync)
			matching.GET("/requests/:requesterId", matchingHandler.Status)
			matching.DELETE("/requests/:requesterId", matchingHandler.Cancel)
			matching.POST("/matches/:matchId/confirm", matchingHandler.Confirm)
		}
	}

	return router
}

func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       12 * time.Hour,
	}
	if len(origins) == 0 {
		c.AllowAllOrigins = true
		return c
	}
	c.AllowOrigins = origins
	c.AllowCredentials = true
	return c
}
