package platformtoken

import (
	"crypto/rsa"
	"encoding/base64"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/badgeauth/internal/account"
	"github.com/yourorg/badgeauth/internal/keys"
)

var (
	pairOnce      sync.Once
	pair, another *keys.Material
)

// testKeys generates two RSA pairs once per test binary.
func testKeys(t *testing.T) (*keys.Material, *keys.Material) {
	t.Helper()
	pairOnce.Do(func() {
		var err error
		if pair, err = keys.GenerateRSA(2048); err != nil {
			panic(err)
		}
		if another, err = keys.GenerateRSA(2048); err != nil {
			panic(err)
		}
	})
	return pair, another
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func newService(t *testing.T, cfg Config, m *keys.Material) (*Service, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	s, err := New(cfg, m, WithClock(clock.Now))
	require.NoError(t, err)
	return s, clock
}

func testUser() *account.User {
	return &account.User{ID: "user-1", Username: "ada", Email: "ada@example.com", FirstName: "Ada", LastName: "Lovelace", IsAdmin: true}
}

func TestGenerateAndVerifyRoundTrip(t *testing.T) {
	m, _ := testKeys(t)
	s, clock := newService(t, Config{PlatformID: "platform-x", Issuer: "issuer-x", Audience: "badges"}, m)

	token, err := s.GeneratePlatformToken(testUser())
	require.NoError(t, err)

	claims := s.VerifyToken(token)
	require.NotNil(t, claims)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "platform-x", claims.PlatformID)
	assert.Equal(t, "Ada Lovelace", claims.DisplayName)
	assert.Equal(t, "ada@example.com", claims.Email)
	assert.Equal(t, Metadata{FirstName: "Ada", LastName: "Lovelace", IsAdmin: true}, claims.Metadata)
	assert.Equal(t, "issuer-x", claims.Issuer)
	assert.Equal(t, jwt.ClaimStrings{"badges"}, claims.Audience)
	assert.Equal(t, clock.t.Unix(), claims.IssuedAt.Unix())
	assert.Equal(t, clock.t.Add(TokenTTL).Unix(), claims.ExpiresAt.Unix())
}

func TestGenerate_Header(t *testing.T) {
	m, _ := testKeys(t)
	s, _ := newService(t, Config{KeyID: "rotated-key-7"}, m)

	token, err := s.GeneratePlatformToken(testUser())
	require.NoError(t, err)

	parsed, _, err := jwt.NewParser().ParseUnverified(token, &Claims{})
	require.NoError(t, err)
	assert.Equal(t, "RS256", parsed.Header["alg"])
	assert.Equal(t, "rotated-key-7", parsed.Header["kid"])
}

func TestGenerate_Defaults(t *testing.T) {
	m, _ := testKeys(t)
	s, _ := newService(t, Config{}, m)

	token, err := s.GeneratePlatformToken(testUser())
	require.NoError(t, err)
	claims := s.VerifyToken(token)
	require.NotNil(t, claims)
	assert.Equal(t, DefaultClientID, claims.Issuer)
	assert.Equal(t, DefaultPlatformID, claims.PlatformID)
	assert.Empty(t, claims.Audience)
	assert.Equal(t, DefaultKeyID, s.KeyID())
}

func TestGenerate_RequiresIDAndEmail(t *testing.T) {
	m, _ := testKeys(t)
	s, _ := newService(t, Config{}, m)

	_, err := s.GeneratePlatformToken(&account.User{Email: "a@example.com"})
	assert.ErrorIs(t, err, ErrInvalidUser)
	_, err = s.GeneratePlatformToken(&account.User{ID: "u"})
	assert.ErrorIs(t, err, ErrInvalidUser)
	_, err = s.GeneratePlatformToken(nil)
	assert.ErrorIs(t, err, ErrInvalidUser)
}

func TestVerify_ExpiryBoundary(t *testing.T) {
	m, _ := testKeys(t)
	for _, tolerance := range []time.Duration{0, 30 * time.Second} {
		t.Run(tolerance.String(), func(t *testing.T) {
			s, clock := newService(t, Config{ClockTolerance: tolerance}, m)
			issued := clock.t
			token, err := s.GeneratePlatformToken(testUser())
			require.NoError(t, err)

			clock.t = issued.Add(TokenTTL - time.Second)
			assert.NotNil(t, s.VerifyToken(token), "valid one second before exp")

			clock.t = issued.Add(TokenTTL + tolerance - time.Second)
			assert.NotNil(t, s.VerifyToken(token), "valid inside tolerance")

			clock.t = issued.Add(TokenTTL + tolerance + time.Second)
			assert.Nil(t, s.VerifyToken(token), "expired after exp + tolerance")
		})
	}
}

func TestVerify_RejectsForeignKey(t *testing.T) {
	m, attacker := testKeys(t)
	s, clock := newService(t, Config{}, m)
	forged, err := New(Config{}, attacker, WithClock(clock.Now))
	require.NoError(t, err)

	token, err := forged.GeneratePlatformToken(testUser())
	require.NoError(t, err)
	assert.Nil(t, s.VerifyToken(token))
}

func TestVerify_RejectsWrongIssuerAndAudience(t *testing.T) {
	m, _ := testKeys(t)
	verifier, clock := newService(t, Config{Issuer: "expected", Audience: "badges"}, m)

	wrongIssuer, err := New(Config{Issuer: "someone-else", Audience: "badges"}, m, WithClock(clock.Now))
	require.NoError(t, err)
	token, err := wrongIssuer.GeneratePlatformToken(testUser())
	require.NoError(t, err)
	assert.Nil(t, verifier.VerifyToken(token))

	noAudience, err := New(Config{Issuer: "expected"}, m, WithClock(clock.Now))
	require.NoError(t, err)
	token, err = noAudience.GeneratePlatformToken(testUser())
	require.NoError(t, err)
	assert.Nil(t, verifier.VerifyToken(token))
}

func TestVerify_RejectsUnknownKeyID(t *testing.T) {
	m, _ := testKeys(t)
	verifier, clock := newService(t, Config{KeyID: "key-a"}, m)
	other, err := New(Config{KeyID: "key-b"}, m, WithClock(clock.Now))
	require.NoError(t, err)

	token, err := other.GeneratePlatformToken(testUser())
	require.NoError(t, err)
	assert.Nil(t, verifier.VerifyToken(token))
}

func TestVerify_AlgorithmPinnedToRS256(t *testing.T) {
	m, _ := testKeys(t)
	s, clock := newService(t, Config{}, m)
	claims := Claims{
		Email: "ada@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    DefaultClientID,
			ExpiresAt: jwt.NewNumericDate(clock.t.Add(time.Hour)),
		},
	}

	// HMAC keyed with the public key PEM: the classic algorithm-confusion forgery.
	hs := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	hs.Header["kid"] = DefaultKeyID
	forged, err := hs.SignedString(m.PublicPEM)
	require.NoError(t, err)
	assert.Nil(t, s.VerifyToken(forged))

	none := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	assert.Nil(t, s.VerifyToken(unsigned))
}

func TestVerify_RejectsMissingExpiryAndGarbage(t *testing.T) {
	m, _ := testKeys(t)
	s, _ := newService(t, Config{}, m)
	priv, err := jwt.ParseRSAPrivateKeyFromPEM(m.PrivatePEM)
	require.NoError(t, err)

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u", Issuer: DefaultClientID}})
	noExp, err := tok.SignedString(priv)
	require.NoError(t, err)
	assert.Nil(t, s.VerifyToken(noExp))

	assert.Nil(t, s.VerifyToken(""))
	assert.Nil(t, s.VerifyToken("not.a.jwt"))
}

func TestVerify_NonBooleanAdminFlagIsRejected(t *testing.T) {
	m, _ := testKeys(t)
	s, clock := newService(t, Config{}, m)
	priv, err := jwt.ParseRSAPrivateKeyFromPEM(m.PrivatePEM)
	require.NoError(t, err)

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"sub":      "user-1",
		"iss":      DefaultClientID,
		"exp":      clock.t.Add(time.Hour).Unix(),
		"metadata": map[string]any{"isAdmin": "true"},
	})
	tok.Header["kid"] = DefaultKeyID
	signed, err := tok.SignedString(priv)
	require.NoError(t, err)
	assert.Nil(t, s.VerifyToken(signed))
}

func TestNew_RejectsBadKeys(t *testing.T) {
	m, other := testKeys(t)

	_, err := New(Config{}, &keys.Material{PrivatePEM: []byte("garbage"), PublicPEM: m.PublicPEM})
	assert.Error(t, err)

	_, err = New(Config{}, &keys.Material{PrivatePEM: m.PrivatePEM, PublicPEM: other.PublicPEM})
	assert.ErrorContains(t, err, "does not match")

	_, err = New(Config{}, nil)
	assert.Error(t, err)
}

func TestCreateOpenBadgesAPIClient(t *testing.T) {
	m, _ := testKeys(t)
	s, _ := newService(t, Config{}, m)

	c, err := s.CreateOpenBadgesAPIClient(testUser())
	require.NoError(t, err)
	assert.Equal(t, "Bearer "+c.Token, c.Headers.Get("Authorization"))
	assert.Equal(t, "application/json", c.Headers.Get("Content-Type"))
	assert.NotNil(t, s.VerifyToken(c.Token))

	_, err = s.CreateOpenBadgesAPIClient(&account.User{})
	assert.ErrorIs(t, err, ErrInvalidUser)
}

func TestJWKS(t *testing.T) {
	m, _ := testKeys(t)
	s, _ := newService(t, Config{KeyID: "kid-1"}, m)
	pub, err := jwt.ParseRSAPublicKeyFromPEM(m.PublicPEM)
	require.NoError(t, err)

	set := s.JWKS()
	require.Len(t, set.Keys, 1)
	k := set.Keys[0]
	assert.Equal(t, "RSA", k.Kty)
	assert.Equal(t, "kid-1", k.Kid)
	assert.Equal(t, "RS256", k.Alg)
	assert.False(t, strings.ContainsAny(k.N, "+/="))

	n, err := base64.RawURLEncoding.DecodeString(k.N)
	require.NoError(t, err)
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	require.NoError(t, err)
	rebuilt := &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(new(big.Int).SetBytes(e).Int64())}
	assert.True(t, pub.Equal(rebuilt))
}
