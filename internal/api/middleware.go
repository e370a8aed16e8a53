package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ammar1510/chatline/internal/auth"
	"github.com/ammar1510/chatline/internal/logger"
)

var log = logger.New("api")

// AuthMiddleware validates JWT tokens and sets user info in context
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")

		// Check if Authorization header exists and has Bearer format
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			c.Abort()
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")

		claims, err := auth.ValidateToken(tokenString)
		if err != nil {
			msg := "Invalid token"
			if errors.Is(err, auth.ErrTokenExpired) {
				msg = "Token expired"
			}
			c.JSON(http.StatusUnauthorized, gin.H{"error": msg})
			c.Abort()
			return
		}

		c.Set("userID", claims.UserID)

		c.Next()
	}
}

// RequestLogger logs one line per request through the structured logger.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		line := log.With("status", status).With("latency_ms", time.Since(start).Milliseconds())
		switch {
		case status >= http.StatusInternalServerError:
			line.Error("%s %s", c.Request.Method, c.FullPath())
		case status >= http.StatusBadRequest:
			line.Warn("%s %s", c.Request.Method, c.FullPath())
		default:
			line.Debug("%s %s", c.Request.Method, c.FullPath())
		}
	}
}
