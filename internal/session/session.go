// Package session stores in-flight OAuth authorization attempts and enforces
// that each one is consumed at most once.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultTTL bounds how long a user may take at the provider's consent screen.
	DefaultTTL = 10 * time.Minute

	stateBytes = 32
	// StateLength is the encoded length of a generated state.
	StateLength = 43
)

var statePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{43}$`)

// Session is one OAuth authorization attempt.
type Session struct {
	ID           string
	State        string
	CodeVerifier string
	RedirectURI  string
	Provider     string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	Used         bool
}

// Expired reports whether the session is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Store persists sessions keyed by state.
//
// Get returns nil, nil for absent or expired sessions. MarkUsed is a
// compare-and-swap: it returns true for exactly one caller per state.
type Store interface {
	Create(ctx context.Context, provider, redirectURI, codeVerifier string) (*Session, error)
	Get(ctx context.Context, state string) (*Session, error)
	MarkUsed(ctx context.Context, state string) (bool, error)
	Remove(ctx context.Context, state string) error
	CleanupExpired(ctx context.Context) (int64, error)
	CleanupUsed(ctx context.Context) (int64, error)
}

// GenerateState returns 32 CSPRNG bytes encoded as unpadded base64url.
func GenerateState() (string, error) {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// ValidateStateFormat checks length and alphabet only; it never touches a store.
func ValidateStateFormat(state string) bool {
	return statePattern.MatchString(state)
}

type options struct {
	ttl time.Duration
	now func() time.Time
}

// Option configures a store.
type Option func(*options)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) newSession(provider, redirectURI, codeVerifier string) (*Session, error) {
	state, err := GenerateState()
	if err != nil {
		return nil, err
	}
	now := o.now().UTC().Truncate(time.Millisecond)
	return &Session{
		ID:           uuid.NewString(),
		State:        state,
		CodeVerifier: codeVerifier,
		RedirectURI:  redirectURI,
		Provider:     provider,
		CreatedAt:    now,
		ExpiresAt:    now.Add(o.ttl),
	}, nil
}
