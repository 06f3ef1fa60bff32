// Package platformtoken issues and verifies the RS256 platform tokens that
// identify a platform user to this service and to the OpenBadges server.
package platformtoken

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/yourorg/badgeauth/internal/account"
	"github.com/yourorg/badgeauth/internal/keys"
)

const (
	// TokenTTL is the fixed lifetime of a platform token.
	TokenTTL = time.Hour

	DefaultKeyID      = "platform-key-1"
	DefaultClientID   = "badges-platform"
	DefaultPlatformID = "urn:badges-platform:platform"
)

// ErrInvalidUser is returned when a token is requested for a user without id or email.
var ErrInvalidUser = errors.New("user id and email are required")

// Config controls claim values and verification rules.
type Config struct {
	PlatformID string
	// Issuer defaults to DefaultClientID when empty.
	Issuer string
	// Audience is signed into tokens and required on verification when set.
	Audience       string
	KeyID          string
	ClockTolerance time.Duration
}

// Metadata is the nested profile block downstream services read.
type Metadata struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	IsAdmin   bool   `json:"isAdmin"`
}

// Claims is the platform token payload.
type Claims struct {
	PlatformID  string   `json:"platformId"`
	DisplayName string   `json:"displayName"`
	Email       string   `json:"email"`
	Metadata    Metadata `json:"metadata"`
	jwt.RegisteredClaims
}

// Service signs with the private key and verifies with the public key.
// It holds no mutable state after construction and is safe for concurrent use.
type Service struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	cfg        Config
	parser     *jwt.Parser
	now        func() time.Time
	logger     *zap.Logger
}

// Option customises a Service.
type Option func(*Service)

// WithClock replaces time.Now for issuing and verifying.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger used to report verification failures.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New parses the key material. Malformed or mismatched keys are an error.
func New(cfg Config, m *keys.Material, opts ...Option) (*Service, error) {
	if m == nil {
		return nil, errors.New("key material is required")
	}
	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM(m.PrivatePEM)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	publicKey, err := jwt.ParseRSAPublicKeyFromPEM(m.PublicPEM)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	if !privateKey.PublicKey.Equal(publicKey) {
		return nil, errors.New("public key does not match private key")
	}

	if cfg.Issuer == "" {
		cfg.Issuer = DefaultClientID
	}
	if cfg.KeyID == "" {
		cfg.KeyID = DefaultKeyID
	}
	if cfg.PlatformID == "" {
		cfg.PlatformID = DefaultPlatformID
	}
	if cfg.ClockTolerance < 0 {
		cfg.ClockTolerance = 0
	}

	s := &Service{
		privateKey: privateKey,
		publicKey:  publicKey,
		cfg:        cfg,
		now:        time.Now,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.ClockTolerance),
		jwt.WithTimeFunc(func() time.Time { return s.now() }),
	}
	if cfg.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(cfg.Audience))
	}
	s.parser = jwt.NewParser(parserOpts...)
	return s, nil
}

// PlatformID is the identifier embedded in every token.
func (s *Service) PlatformID() string { return s.cfg.PlatformID }

// KeyID is the kid header value.
func (s *Service) KeyID() string { return s.cfg.KeyID }

// GeneratePlatformToken signs a one-hour token for u.
func (s *Service) GeneratePlatformToken(u *account.User) (string, error) {
	if u == nil || u.ID == "" || u.Email == "" {
		return "", ErrInvalidUser
	}
	now := s.now()
	claims := Claims{
		PlatformID:  s.cfg.PlatformID,
		DisplayName: u.DisplayName(),
		Email:       u.Email,
		Metadata: Metadata{
			FirstName: u.FirstName,
			LastName:  u.LastName,
			IsAdmin:   u.IsAdmin,
		},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			Issuer:    s.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
		},
	}
	if s.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{s.cfg.Audience}
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = s.cfg.KeyID
	signed, err := tok.SignedString(s.privateKey)
	if err != nil {
		return "", fmt.Errorf("sign platform token: %w", err)
	}
	return signed, nil
}

// VerifyToken returns the claims of a valid token and nil for anything else.
// Failures are never returned as errors; callers treat nil as unauthenticated.
func (s *Service) VerifyToken(tokenStr string) *Claims {
	claims := &Claims{}
	token, err := s.parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if kid, ok := t.Header["kid"]; ok && kid != s.cfg.KeyID {
			return nil, fmt.Errorf("unknown key id %v", kid)
		}
		return s.publicKey, nil
	})
	if err != nil || !token.Valid {
		s.logger.Debug("platform token rejected", zap.Error(err))
		return nil
	}
	return claims
}
