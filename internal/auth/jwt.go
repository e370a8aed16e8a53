package auth

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/ammar1510/chatline/internal/logger"
)

const (
	AccessTokenTTL  = 15 * time.Minute
	RefreshTokenTTL = 7 * 24 * time.Hour
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
	ErrNoUserID     = errors.New("user ID cannot be empty")

	// These variables will be initialized either from environment
	// variables or explicitly via InitJWTKeys
	accessKey  = []byte(os.Getenv("JWT_ACCESS_SECRET"))
	refreshKey = []byte(os.Getenv("JWT_REFRESH_SECRET"))
	log        = logger.New("auth")
)

// InitJWTKeys sets the access and refresh signing secrets.
// An empty refresh secret disables silent refresh.
func InitJWTKeys(access, refresh []byte) {
	accessKey = access
	refreshKey = refresh
}

// JWTClaims represents the claims in the JWT
type JWTClaims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// GenerateAccessToken creates a new short-lived access token for a user
func GenerateAccessToken(userID string) (string, time.Time, error) {
	return generate(userID, accessKey, AccessTokenTTL)
}

// GenerateRefreshToken creates a refresh token for a user
func GenerateRefreshToken(userID string) (string, time.Time, error) {
	if len(refreshKey) == 0 {
		return "", time.Time{}, errors.New("refresh secret not configured")
	}
	return generate(userID, refreshKey, RefreshTokenTTL)
}

func generate(userID string, key []byte, ttl time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(userID) == "" {
		return "", time.Time{}, ErrNoUserID
	}

	expirationTime := time.Now().Add(ttl)

	claims := &JWTClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expirationTime),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(key)

	return tokenString, expirationTime, err
}

// ValidateToken validates an access token and returns the claims.
// An expired but otherwise valid token yields ErrTokenExpired.
func ValidateToken(tokenString string) (*JWTClaims, error) {
	return validate(tokenString, accessKey)
}

// ValidateRefreshToken validates a refresh token and returns the claims
func ValidateRefreshToken(tokenString string) (*JWTClaims, error) {
	if len(refreshKey) == 0 {
		return nil, ErrInvalidToken
	}
	return validate(tokenString, refreshKey)
}

func validate(tokenString string, key []byte) (*JWTClaims, error) {
	// Safe logging of token preview
	if len(tokenString) > 10 {
		log.Debug("Validating token: %s...", tokenString[:10])
	} else if len(tokenString) == 0 {
		log.Warn("Validating empty token")
	}

	claims := &JWTClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// Check signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			log.Error("Unexpected signing method: %v", token.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return key, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			log.Debug("Token expired for user: %s", claims.UserID)
			return claims, ErrTokenExpired
		}
		log.Warn("Token validation error: %v", err)
		return nil, err
	}

	if !token.Valid || claims.UserID == "" {
		log.Warn("Token is invalid")
		return nil, ErrInvalidToken
	}

	log.Debug("Token validated successfully for user: %s", claims.UserID)
	return claims, nil
}

// Refresh exchanges a valid refresh token for a new access token.
func Refresh(refreshToken string) (string, time.Time, string, error) {
	claims, err := ValidateRefreshToken(refreshToken)
	if err != nil {
		return "", time.Time{}, "", err
	}
	token, expiry, err := GenerateAccessToken(claims.UserID)
	if err != nil {
		return "", time.Time{}, "", err
	}
	return token, expiry, claims.UserID, nil
}
