package keys

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPair(t *testing.T) *Material {
	t.Helper()
	m, err := GenerateRSA(2048)
	require.NoError(t, err)
	return m
}

func TestLoad_RawPEMFromEnv(t *testing.T) {
	pair := testPair(t)
	m, err := Load(Source{
		PrivateKey:     string(pair.PrivatePEM),
		PublicKey:      string(pair.PublicPEM),
		PrivateKeyPath: "/nonexistent/private.pem",
		PublicKeyPath:  "/nonexistent/public.pem",
	})
	require.NoError(t, err)
	assert.Equal(t, pair.PrivatePEM, m.PrivatePEM)
	assert.Equal(t, pair.PublicPEM, m.PublicPEM)
	assert.Equal(t, OriginEnvPEM, m.PrivateOrigin)
}

func TestDecodeValue_EscapedNewlines(t *testing.T) {
	b, origin, err := decodeValue("public", `-----BEGIN PUBLIC KEY-----\nAAAA\n-----END PUBLIC KEY-----`)
	require.NoError(t, err)
	assert.Equal(t, OriginEnvPEM, origin)
	assert.Equal(t, "-----BEGIN PUBLIC KEY-----\nAAAA\n-----END PUBLIC KEY-----", string(b))
}

func TestLoad_Base64FromEnv(t *testing.T) {
	pair := testPair(t)
	m, err := Load(Source{
		PrivateKeyB64: base64.StdEncoding.EncodeToString(pair.PrivatePEM),
		// Wrapped base64 is accepted.
		PublicKey: wrap(base64.StdEncoding.EncodeToString(pair.PublicPEM), 64),
	})
	require.NoError(t, err)
	assert.Equal(t, pair.PrivatePEM, m.PrivatePEM)
	assert.Equal(t, pair.PublicPEM, m.PublicPEM)
	assert.Equal(t, OriginEnvBase64, m.PrivateOrigin)
	assert.Equal(t, OriginEnvBase64, m.PublicOrigin)
}

func wrap(s string, n int) string {
	var out string
	for len(s) > n {
		out += s[:n] + "\n"
		s = s[n:]
	}
	return out + s
}

func TestLoad_RawEnvWinsOverB64(t *testing.T) {
	pair := testPair(t)
	m, err := Load(Source{
		PrivateKey:    string(pair.PrivatePEM),
		PrivateKeyB64: "this is not used",
		PublicKey:     string(pair.PublicPEM),
	})
	require.NoError(t, err)
	assert.Equal(t, OriginEnvPEM, m.PrivateOrigin)
}

func TestLoad_InvalidValuesAreFatal(t *testing.T) {
	pub := string(testPair(t).PublicPEM)
	tests := []struct {
		name  string
		value string
	}{
		{"not base64 alphabet", "not*base64!"},
		{"bad base64 length", "abcde"},
		{"base64 of non-PEM", base64.StdEncoding.EncodeToString([]byte("hello world"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(Source{PrivateKey: tt.value, PublicKey: pub})
			assert.Error(t, err)
		})
	}
}

func TestLoad_FileFallback(t *testing.T) {
	pair := testPair(t)
	dir := t.TempDir()
	privPath := filepath.Join(dir, "private.pem")
	pubPath := filepath.Join(dir, "public.pem")
	require.NoError(t, os.WriteFile(privPath, pair.PrivatePEM, 0o600))
	require.NoError(t, os.WriteFile(pubPath, pair.PublicPEM, 0o644))

	m, err := Load(Source{PrivateKeyPath: privPath, PublicKeyPath: pubPath})
	require.NoError(t, err)
	assert.Equal(t, OriginFile, m.PrivateOrigin)
	assert.Equal(t, OriginFile, m.PublicOrigin)
	assert.Equal(t, pair.PublicPEM, m.PublicPEM)
}

func TestLoad_MissingFileIsFatal(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(Source{
		PrivateKeyPath: filepath.Join(dir, "missing.pem"),
		PublicKeyPath:  filepath.Join(dir, "missing.pub"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "private key")
}

func TestGenerateRSA_RejectsSmallKeys(t *testing.T) {
	_, err := GenerateRSA(1024)
	assert.Error(t, err)
}
