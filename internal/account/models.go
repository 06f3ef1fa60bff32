// Package account holds the platform user and OAuth provider link records
// shared by the token service, the OAuth broker and the storage layer.
package account

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a user or link does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write violates a uniqueness rule.
	ErrConflict = errors.New("conflict")
)

// User is the local platform account a platform token asserts identity for.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	IsAdmin   bool      `json:"isAdmin"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DisplayName is the human readable name carried in platform tokens.
func (u *User) DisplayName() string {
	full := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	switch {
	case full != "":
		return full
	case u.Username != "":
		return u.Username
	default:
		return u.Email
	}
}

// ProviderLink binds a User to one identity at a third-party provider.
type ProviderLink struct {
	UserID         string          `json:"user_id"`
	Provider       string          `json:"provider"`
	ProviderUserID string          `json:"provider_user_id"`
	AccessToken    string          `json:"-"`
	RefreshToken   string          `json:"-"`
	TokenExpiresAt time.Time       `json:"token_expires_at"`
	ProfileData    json.RawMessage `json:"profile,omitempty"`
	CreatedAt      time.Time       `json:"linked_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// NormalizeEmail lower-cases and trims an address so lookups are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
