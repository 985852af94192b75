package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidAuthToken = errors.New("authorization token invalid")

// SignAuthToken issues the bearer credential handed to a logged in user
func SignAuthToken(secret, userID string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("no jwt secret configured")
	}

	now := time.Now()
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"type":    "auth",
		"iat":     now.Unix(),
		"exp":     now.Add(ttl).Unix(),
	})

	return t.SignedString([]byte(secret))
}

// ParseAuthToken validates the signature, expiry and type of a bearer credential
// and returns the user ID it was issued for
func ParseAuthToken(secret, tokenStr string) (string, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidAuthToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", ErrInvalidAuthToken
	}

	if typ, _ := claims["type"].(string); typ != "auth" {
		return "", ErrInvalidAuthToken
	}

	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return "", ErrInvalidAuthToken
	}

	return userID, nil
}
