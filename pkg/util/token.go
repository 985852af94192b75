// Package util contains any functions used across the application that don't match
// any other package
package util

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
)

// GenerateToken returns n bytes read from the system CSPRNG encoded as hex,
// so the resulting string is 2*n characters long
func GenerateToken(n int) (string, error) {
	if n <= 0 {
		return "", errors.New("token size must be bigger than 0")
	}

	b := make([]byte, n)

	_, err := rand.Read(b)
	if err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}
