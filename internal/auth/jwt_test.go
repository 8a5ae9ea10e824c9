package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conversekit/chat-gateway/internal/config"
)

func init() {
	config.AppConfig.JWTSecret = "test-secret"
}

func TestJWT_RoundTrip(t *testing.T) {
	token, err := GenerateJWT("alice@example.com", "Alice")
	require.NoError(t, err)

	user, err := ValidateJWT(token)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.Equal(t, "Alice", user.Name)
}

func TestValidateJWT_Failures(t *testing.T) {
	t.Run("garbage token", func(t *testing.T) {
		_, err := ValidateJWT("not-a-token")
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("wrong secret", func(t *testing.T) {
		claims := jwt.MapClaims{"sub": "alice@example.com", "exp": time.Now().Add(time.Hour).Unix()}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("other-secret"))
		require.NoError(t, err)

		_, err = ValidateJWT(token)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("expired token", func(t *testing.T) {
		claims := jwt.MapClaims{"sub": "alice@example.com", "exp": time.Now().Add(-time.Hour).Unix()}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
		require.NoError(t, err)

		_, err = ValidateJWT(token)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("missing subject", func(t *testing.T) {
		claims := jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
		require.NoError(t, err)

		_, err = ValidateJWT(token)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})
}
