package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const MaxUsernameLength = 32

var ErrUsernameEmpty = errors.New("username must not be empty")
var ErrUsernameTooLong = fmt.Errorf("username must not exceed %d characters", MaxUsernameLength)
var ErrUsernameInvalidChars = errors.New("username must contain only alphanumeric characters, underscores, or hyphens")
var ErrEmailInvalid = errors.New("email address is not valid")
var ErrInvalidTier = errors.New("invalid tier: must be free, starter, global, or elite")

// Account represents a registered user profile. The chat core reads it once
// at login to fill session attributes; the monetization routes mutate it.
type Account struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // argon2id, encoded with its salt
	Country      string    `json:"country"`
	Interests    []string  `json:"interests"`
	IsPremium    bool      `json:"is_premium"`
	Tier         Tier      `json:"subscription_tier"`
	Coins        int64     `json:"coins"`
	CreatedAt    time.Time `json:"created_at"`
}

// ValidateUsername checks that a username is 1-32 ASCII alphanumeric,
// underscore, or hyphen characters. Returns nil on success or a descriptive
// error.
func ValidateUsername(name string) error {
	if len(name) == 0 {
		return ErrUsernameEmpty
	}
	if len(name) > MaxUsernameLength {
		return ErrUsernameTooLong
	}
	for _, r := range name {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '_' && r != '-' {
			return ErrUsernameInvalidChars
		}
	}
	return nil
}

// ValidateEmail performs a minimal shape check: one @ with non-empty local
// part and a domain containing a dot.
func ValidateEmail(email string) error {
	at := strings.IndexByte(email, '@')
	if at < 1 || at == len(email)-1 {
		return ErrEmailInvalid
	}
	domain := email[at+1:]
	if strings.IndexByte(domain, '.') < 1 || strings.HasSuffix(domain, ".") {
		return ErrEmailInvalid
	}
	if strings.ContainsAny(email, " \t\r\n") || strings.Count(email, "@") != 1 {
		return ErrEmailInvalid
	}
	return nil
}
