package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ammar1510/chatline/internal/auth"
)

// setupAuthTestRouter creates a test router with the auth middleware
func setupAuthTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	auth.InitJWTKeys([]byte("test-access-secret"), []byte("test-refresh-secret"))
	router := gin.New()

	router.Use(AuthMiddleware())

	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"userID": c.GetString("userID")})
	})

	return router
}

// TestAuthMiddleware tests the authentication middleware
func TestAuthMiddleware(t *testing.T) {
	router := setupAuthTestRouter()

	token, _, err := auth.GenerateAccessToken("user-42")
	require.NoError(t, err)

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &auth.JWTClaims{
		UserID: "user-42",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}).SignedString([]byte("test-access-secret"))
	require.NoError(t, err)

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantError  string
	}{
		{name: "valid token", header: "Bearer " + token, wantStatus: http.StatusOK},
		{name: "no token", header: "", wantStatus: http.StatusUnauthorized, wantError: "Authorization header required"},
		{name: "invalid token format", header: "Bearer invalid.token.string", wantStatus: http.StatusUnauthorized, wantError: "Invalid token"},
		{name: "missing Bearer prefix", header: token, wantStatus: http.StatusUnauthorized, wantError: "Authorization header required"},
		{name: "expired token", header: "Bearer " + expired, wantStatus: http.StatusUnauthorized, wantError: "Token expired"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)

			var response map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
			if tt.wantError == "" {
				assert.Equal(t, "user-42", response["userID"])
			} else {
				assert.Equal(t, tt.wantError, response["error"])
			}
		})
	}
}
