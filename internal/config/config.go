// Package config loads service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/yourorg/badgeauth/internal/keys"
)

const (
	SessionStoreDatabase = "database"
	SessionStoreRedis    = "redis"
	SessionStoreMemory   = "memory"
)

// ProviderEnv holds one provider's OAUTH_<PROVIDER>_* variables.
type ProviderEnv struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	CallbackURL  string `env:"CALLBACK_URL"`
}

// KeyEnv holds the platform key variables.
type KeyEnv struct {
	PrivateKey     string `env:"PLATFORM_JWT_PRIVATE_KEY"`
	PrivateKeyB64  string `env:"PLATFORM_JWT_PRIVATE_KEY_B64"`
	PublicKey      string `env:"PLATFORM_JWT_PUBLIC_KEY"`
	PublicKeyB64   string `env:"PLATFORM_JWT_PUBLIC_KEY_B64"`
	PrivateKeyPath string `env:"PLATFORM_JWT_PRIVATE_KEY_PATH" envDefault:"keys/platform-private.pem"`
	PublicKeyPath  string `env:"PLATFORM_JWT_PUBLIC_KEY_PATH"  envDefault:"keys/platform-public.pem"`
}

// Source converts the variables into a key loader input.
func (k KeyEnv) Source() keys.Source {
	return keys.Source{
		PrivateKey:     k.PrivateKey,
		PrivateKeyB64:  k.PrivateKeyB64,
		PublicKey:      k.PublicKey,
		PublicKeyB64:   k.PublicKeyB64,
		PrivateKeyPath: k.PrivateKeyPath,
		PublicKeyPath:  k.PublicKeyPath,
	}
}

type Config struct {
	HTTPAddr        string        `env:"HTTP_ADDR"        envDefault:":8081"`
	BaseURL         string        `env:"BASE_URL"         envDefault:"http://localhost:8081"`
	LogLevel        string        `env:"LOG_LEVEL"        envDefault:"info"`
	LogDevelopment  bool          `env:"LOG_DEVELOPMENT"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`

	DatabaseURL string `env:"DATABASE_URL" envDefault:"badgeauth.db"`
	RedisURL    string `env:"REDIS_URL"`

	SessionStore           string        `env:"OAUTH_SESSION_STORE"            envDefault:"database"`
	SessionTTL             time.Duration `env:"OAUTH_SESSION_TTL"              envDefault:"10m"`
	SweepInterval          time.Duration `env:"OAUTH_SWEEP_INTERVAL"           envDefault:"5m"`
	ProviderTimeout        time.Duration `env:"OAUTH_PROVIDER_TIMEOUT"         envDefault:"10s"`
	FrontendCallbackURL    string        `env:"OAUTH_FRONTEND_CALLBACK_URL"    envDefault:"/auth/oauth/callback"`
	AllowedRedirectOrigins []string      `env:"OAUTH_ALLOWED_REDIRECT_ORIGINS" envSeparator:","`

	GitHub  ProviderEnv `envPrefix:"OAUTH_GITHUB_"`
	Google  ProviderEnv `envPrefix:"OAUTH_GOOGLE_"`
	Discord ProviderEnv `envPrefix:"OAUTH_DISCORD_"`

	Keys KeyEnv

	PlatformID     string `env:"PLATFORM_ID"`
	ClientID       string `env:"PLATFORM_CLIENT_ID"      envDefault:"badges-platform"`
	Issuer         string `env:"PLATFORM_JWT_ISSUER"`
	Audience       string `env:"PLATFORM_JWT_AUDIENCE"`
	KeyID          string `env:"OPENBADGES_JWT_KID"      envDefault:"platform-key-1"`
	ClockTolerance string `env:"JWT_CLOCK_TOLERANCE_SEC"`

	OpenBadgesURL         string        `env:"OPENBADGES_SERVER_URL"`
	OpenBadgesSyncTimeout time.Duration `env:"OPENBADGES_SYNC_TIMEOUT" envDefault:"10s"`
}

// Load reads the process environment.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return finish(&cfg)
}

// LoadFrom reads vars instead of the process environment.
func LoadFrom(vars map[string]string) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: vars}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return finish(&cfg)
}

func finish(cfg *Config) (*Config, error) {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.SessionStore = strings.ToLower(strings.TrimSpace(cfg.SessionStore))
	origins := cfg.AllowedRedirectOrigins[:0]
	for _, o := range cfg.AllowedRedirectOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	cfg.AllowedRedirectOrigins = origins

	switch cfg.SessionStore {
	case SessionStoreDatabase, SessionStoreMemory:
	case SessionStoreRedis:
		if cfg.RedisURL == "" {
			return nil, errors.New("OAUTH_SESSION_STORE=redis requires REDIS_URL")
		}
	default:
		return nil, fmt.Errorf("unknown OAUTH_SESSION_STORE %q", cfg.SessionStore)
	}
	return cfg, nil
}

// JWTIssuer is PLATFORM_JWT_ISSUER, falling back to PLATFORM_CLIENT_ID.
func (c *Config) JWTIssuer() string {
	if c.Issuer != "" {
		return c.Issuer
	}
	return c.ClientID
}

// ClockToleranceDuration parses JWT_CLOCK_TOLERANCE_SEC. Anything that is not
// a finite non-negative number counts as zero.
func (c *Config) ClockToleranceDuration() time.Duration {
	secs, err := strconv.ParseFloat(strings.TrimSpace(c.ClockTolerance), 64)
	if err != nil || math.IsNaN(secs) || math.IsInf(secs, 0) || secs < 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

// CallbackURL is the provider's configured callback or BASE_URL/oauth/<name>/callback.
func (c *Config) CallbackURL(name string, p ProviderEnv) string {
	if p.CallbackURL != "" {
		return p.CallbackURL
	}
	return c.BaseURL + "/oauth/" + name + "/callback"
}
