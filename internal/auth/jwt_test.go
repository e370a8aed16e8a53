package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initTestKeys() {
	InitJWTKeys([]byte("test-access-secret"), []byte("test-refresh-secret"))
}

func expiredToken(t *testing.T, userID string, key []byte) string {
	t.Helper()
	claims := &JWTClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func TestGenerateAccessToken(t *testing.T) {
	initTestKeys()

	tests := []struct {
		name    string
		userID  string
		wantErr bool
	}{
		{name: "valid user", userID: "user-1", wantErr: false},
		{name: "missing user ID", userID: "", wantErr: true},
		{name: "blank user ID", userID: "   ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, expiry, err := GenerateAccessToken(tt.userID)

			if tt.wantErr {
				assert.Error(t, err)
				assert.Empty(t, token)
			} else {
				assert.NoError(t, err)
				assert.NotEmpty(t, token)
				assert.True(t, expiry.After(time.Now()))

				claims, err := ValidateToken(token)
				assert.NoError(t, err)
				assert.Equal(t, tt.userID, claims.UserID)
			}
		})
	}
}

func TestValidateToken(t *testing.T) {
	initTestKeys()

	validToken, _, err := GenerateAccessToken("user-1")
	require.NoError(t, err)
	refreshToken, _, err := GenerateRefreshToken("user-1")
	require.NoError(t, err)

	tests := []struct {
		name        string
		tokenString string
		wantErr     error
	}{
		{name: "valid token", tokenString: validToken},
		{name: "empty token", tokenString: "", wantErr: assert.AnError},
		{name: "invalid token format", tokenString: "not.a.valid.jwt.token", wantErr: assert.AnError},
		{name: "tampered token", tokenString: validToken + "tampered", wantErr: assert.AnError},
		{name: "refresh token is not an access token", tokenString: refreshToken, wantErr: assert.AnError},
		{name: "expired token", tokenString: expiredToken(t, "user-1", []byte("test-access-secret")), wantErr: ErrTokenExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := ValidateToken(tt.tokenString)
			switch tt.wantErr {
			case nil:
				assert.NoError(t, err)
				assert.NotNil(t, claims)
			case assert.AnError:
				assert.Error(t, err)
				assert.NotErrorIs(t, err, ErrTokenExpired)
			default:
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestExpiredTokenKeepsClaims(t *testing.T) {
	initTestKeys()

	claims, err := ValidateToken(expiredToken(t, "user-9", []byte("test-access-secret")))
	assert.ErrorIs(t, err, ErrTokenExpired)
	require.NotNil(t, claims)
	assert.Equal(t, "user-9", claims.UserID)
}

func TestForgedExpiredTokenIsInvalid(t *testing.T) {
	initTestKeys()

	claims, err := ValidateToken(expiredToken(t, "mallory", []byte("not-the-secret")))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrTokenExpired)
	assert.Nil(t, claims)
}

func TestRefresh(t *testing.T) {
	initTestKeys()

	refreshToken, _, err := GenerateRefreshToken("user-1")
	require.NoError(t, err)

	access, expiry, userID, err := Refresh(refreshToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
	assert.WithinDuration(t, time.Now().Add(AccessTokenTTL), expiry, 5*time.Second)

	claims, err := ValidateToken(access)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)

	_, _, _, err = Refresh(expiredToken(t, "user-1", []byte("test-refresh-secret")))
	assert.ErrorIs(t, err, ErrTokenExpired)

	_, _, _, err = Refresh("garbage")
	assert.Error(t, err)
}

func TestRefreshDisabledWithoutSecret(t *testing.T) {
	InitJWTKeys([]byte("test-access-secret"), nil)
	defer initTestKeys()

	_, _, err := GenerateRefreshToken("user-1")
	assert.Error(t, err)

	_, err = ValidateRefreshToken("anything")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
