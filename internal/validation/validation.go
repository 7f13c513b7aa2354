// Package validation holds input rules for account identity fields.
package validation

import (
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"unicode"
)

// UsernamePattern allows latin letters, digits, underscore and hyphen, 3 to 20 characters.
var UsernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,20}$`)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

const (
	MinUsernameLen = 3
	MaxUsernameLen = 20
	MaxEmailLen    = 254
)

var (
	ErrEmptyEmail    = errors.New("email cannot be empty")
	ErrInvalidEmail  = errors.New("email is not a valid address")
	ErrEmptyUsername = errors.New("username cannot be empty")
)

// PasswordPolicy describes the character-class rules a new password must satisfy.
type PasswordPolicy struct {
	MinLength      int
	MaxLength      int
	RequireUpper   bool
	RequireLower   bool
	RequireDigit   bool
	RequireSpecial bool
}

// DefaultPasswordPolicy is at least 8 characters with one of each class.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:      8,
		MaxLength:      128,
		RequireUpper:   true,
		RequireLower:   true,
		RequireDigit:   true,
		RequireSpecial: true,
	}
}

// NormalizeEmail trims and lowercases.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeUsername trims surrounding whitespace only; case is preserved.
func NormalizeUsername(username string) string {
	return strings.TrimSpace(username)
}

// ValidateEmail expects an already normalized address.
func ValidateEmail(email string) error {
	if email == "" {
		return ErrEmptyEmail
	}
	if len(email) > MaxEmailLen || !emailPattern.MatchString(email) {
		return ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return ErrInvalidEmail
	}
	return nil
}

func ValidateUsername(username string) error {
	if username == "" {
		return ErrEmptyUsername
	}
	if len(username) < MinUsernameLen {
		return fmt.Errorf("username must be at least %d characters long", MinUsernameLen)
	}
	if len(username) > MaxUsernameLen {
		return fmt.Errorf("username must not exceed %d characters", MaxUsernameLen)
	}
	if !UsernamePattern.MatchString(username) {
		return fmt.Errorf("username can only contain letters, numbers, underscores and hyphens")
	}
	return nil
}

// Validate returns the first rule password violates.
func (p PasswordPolicy) Validate(password string) error {
	if password == "" {
		return errors.New("password cannot be empty")
	}
	if p.MinLength > 0 && len(password) < p.MinLength {
		return fmt.Errorf("password must be at least %d characters long", p.MinLength)
	}
	if p.MaxLength > 0 && len(password) > p.MaxLength {
		return fmt.Errorf("password must not exceed %d characters", p.MaxLength)
	}

	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			special = true
		}
	}
	switch {
	case p.RequireUpper && !upper:
		return errors.New("password must contain an uppercase letter")
	case p.RequireLower && !lower:
		return errors.New("password must contain a lowercase letter")
	case p.RequireDigit && !digit:
		return errors.New("password must contain a digit")
	case p.RequireSpecial && !special:
		return errors.New("password must contain a special character")
	}
	return nil
}
