package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig carries the handlers and settings the router mounts.
type RouterConfig struct {
	AllowedOrigins []string
	Messages       *MessageHandler
	Health         *HealthHandler
	WebSocket      gin.HandlerFunc
}

// NewRouter builds the HTTP surface of the service.
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger())

	corsConfig := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowOriginFunc = func(string) bool { return true }
	}
	router.Use(cors.New(corsConfig))

	authorized := router.Group("/api")
	authorized.Use(AuthMiddleware())
	{
		authorized.POST("/chat/messages", cfg.Messages.SendMessage)
		authorized.GET("/chat/:friendId/messages", cfg.Messages.GetConversation)
	}

	// The gateway authenticates its own handshake so it can refresh
	// expired tokens.
	router.GET("/ws", cfg.WebSocket)

	router.GET("/health", cfg.Health.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}
