package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/conversekit/chat-gateway/internal/config"
)

// ErrUnauthorized is returned whenever no valid authenticated session is
// present. Every gateway operation fails with it before any remote call.
var ErrUnauthorized = errors.New("unauthorized")

// User is the identity asserted by the external identity provider for one
// request. It is never persisted by the gateway.
type User struct {
	Email string
	Name  string
}

// GenerateJWT issues a session token the way the identity provider does.
// The gateway itself only validates tokens; this exists for local
// development and tests.
func GenerateJWT(email, name string) (string, error) {
	claims := jwt.MapClaims{
		"sub":  email,
		"name": name,
		"iat":  time.Now().Unix(),
		"exp":  time.Now().Add(time.Hour * 24).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(config.AppConfig.JWTSecret))
}

// ValidateJWT verifies a session token and extracts the user identity.
func ValidateJWT(tokenString string) (*User, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(config.AppConfig.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrUnauthorized
	}

	email, _ := claims["sub"].(string)
	if email == "" {
		return nil, ErrUnauthorized
	}
	name, _ := claims["name"].(string)

	return &User{Email: email, Name: name}, nil
}
