// Package validators checks user supplied input before it reaches a service
package validators

import (
	"errors"
	"net/mail"
	"strings"
	"unicode/utf8"
)

const (
	minPasswordLen = 8
	maxPasswordLen = 128
	maxEmailLen    = 254
)

var (
	ErrEmailEmpty       = errors.New("no email address provided")
	ErrEmailInvalid     = errors.New("invalid email address provided")
	ErrPasswordEmpty    = errors.New("no password provided")
	ErrPasswordTooShort = errors.New("password must be at least 8 characters long")
	ErrPasswordTooLong  = errors.New("password is too long")
)

// NormalizeEmail trims and lowercases an address so lookups don't depend on
// how the user typed it
func NormalizeEmail(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}

// Credentials validates a normalized email and a password. The address must
// be a bare one, display names like "Name <a@b.c>" are rejected
func Credentials(email, password string) error {
	if email == "" {
		return ErrEmailEmpty
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || len(email) > maxEmailLen {
		return ErrEmailInvalid
	}

	switch n := utf8.RuneCountInString(password); {
	case n == 0:
		return ErrPasswordEmpty
	case n < minPasswordLen:
		return ErrPasswordTooShort
	case n > maxPasswordLen:
		return ErrPasswordTooLong
	}

	return nil
}
