package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, ":8081", cfg.HTTPAddr)
	assert.Equal(t, "http://localhost:8081", cfg.BaseURL)
	assert.Equal(t, SessionStoreDatabase, cfg.SessionStore)
	assert.Equal(t, 10*time.Minute, cfg.SessionTTL)
	assert.Equal(t, 5*time.Minute, cfg.SweepInterval)
	assert.Equal(t, 10*time.Second, cfg.ProviderTimeout)
	assert.Equal(t, "/auth/oauth/callback", cfg.FrontendCallbackURL)
	assert.Equal(t, "platform-key-1", cfg.KeyID)
	assert.Equal(t, "badges-platform", cfg.JWTIssuer())
	assert.Equal(t, "keys/platform-private.pem", cfg.Keys.PrivateKeyPath)
	assert.Equal(t, "keys/platform-public.pem", cfg.Keys.PublicKeyPath)
	assert.Zero(t, cfg.ClockToleranceDuration())
	assert.Equal(t, "http://localhost:8081/oauth/github/callback", cfg.CallbackURL("github", cfg.GitHub))
}

func TestLoadFrom_Overrides(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"BASE_URL":                       "https://auth.example.com/",
		"PLATFORM_CLIENT_ID":             "client-x",
		"PLATFORM_JWT_ISSUER":            "issuer-y",
		"PLATFORM_JWT_AUDIENCE":          "badges",
		"OPENBADGES_JWT_KID":             "kid-2",
		"JWT_CLOCK_TOLERANCE_SEC":        "30",
		"OAUTH_GITHUB_CLIENT_ID":         "gh-id",
		"OAUTH_GITHUB_CLIENT_SECRET":     "gh-secret",
		"OAUTH_GOOGLE_CALLBACK_URL":      "https://auth.example.com/custom",
		"OAUTH_ALLOWED_REDIRECT_ORIGINS": "https://app.example.com, ,https://admin.example.com",
		"OAUTH_SESSION_STORE":            "Memory",
		"PLATFORM_JWT_PRIVATE_KEY_B64":   "cHJpdg==",
	})
	require.NoError(t, err)

	assert.Equal(t, "issuer-y", cfg.JWTIssuer())
	assert.Equal(t, "badges", cfg.Audience)
	assert.Equal(t, "kid-2", cfg.KeyID)
	assert.Equal(t, 30*time.Second, cfg.ClockToleranceDuration())
	assert.Equal(t, ProviderEnv{ClientID: "gh-id", ClientSecret: "gh-secret"}, cfg.GitHub)
	assert.Equal(t, "https://auth.example.com/oauth/github/callback", cfg.CallbackURL("github", cfg.GitHub))
	assert.Equal(t, "https://auth.example.com/custom", cfg.CallbackURL("google", cfg.Google))
	assert.Equal(t, []string{"https://app.example.com", "https://admin.example.com"}, cfg.AllowedRedirectOrigins)
	assert.Equal(t, SessionStoreMemory, cfg.SessionStore)
	assert.Equal(t, "cHJpdg==", cfg.Keys.Source().PrivateKeyB64)

	cfg, err = LoadFrom(map[string]string{"PLATFORM_CLIENT_ID": "client-x"})
	require.NoError(t, err)
	assert.Equal(t, "client-x", cfg.JWTIssuer())
}

func TestClockToleranceClamps(t *testing.T) {
	cases := map[string]time.Duration{
		"":     0,
		"abc":  0,
		"-5":   0,
		"NaN":  0,
		"+Inf": 0,
		" 2 ":  2 * time.Second,
		"1.5":  1500 * time.Millisecond,
	}
	for in, want := range cases {
		c := &Config{ClockTolerance: in}
		assert.Equal(t, want, c.ClockToleranceDuration(), "%q", in)
	}
}

func TestLoadFrom_SessionStoreValidation(t *testing.T) {
	_, err := LoadFrom(map[string]string{"OAUTH_SESSION_STORE": "etcd"})
	assert.ErrorContains(t, err, "etcd")

	_, err = LoadFrom(map[string]string{"OAUTH_SESSION_STORE": "redis"})
	assert.ErrorContains(t, err, "REDIS_URL")

	cfg, err := LoadFrom(map[string]string{"OAUTH_SESSION_STORE": "redis", "REDIS_URL": "redis://localhost:6379/0"})
	require.NoError(t, err)
	assert.Equal(t, SessionStoreRedis, cfg.SessionStore)
}
