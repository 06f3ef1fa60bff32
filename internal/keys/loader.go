// Package keys resolves the RSA key pair used to sign and verify platform
// tokens. Resolution happens once at startup and any failure is fatal.
package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

const (
	DefaultPrivateKeyPath = "keys/platform-private.pem"
	DefaultPublicKeyPath  = "keys/platform-public.pem"

	pemHeader = "-----BEGIN"
)

// base64Pattern must match the whole (whitespace-stripped) value.
var base64Pattern = regexp.MustCompile(`^[A-Za-z0-9+/]+={0,2}$`)

// Origin records where a key was resolved from.
type Origin string

const (
	OriginEnvPEM    Origin = "env"
	OriginEnvBase64 Origin = "env-base64"
	OriginFile      Origin = "file"
)

// Source carries the raw inputs for key resolution. Empty fields are ignored.
type Source struct {
	PrivateKey     string
	PrivateKeyB64  string
	PublicKey      string
	PublicKeyB64   string
	PrivateKeyPath string
	PublicKeyPath  string
}

// Material is the resolved PEM pair.
type Material struct {
	PrivatePEM    []byte
	PublicPEM     []byte
	PrivateOrigin Origin
	PublicOrigin  Origin
}

// Load resolves both keys. Each key is taken from its env value (PEM or
// base64), then its _B64 variant, and finally its filesystem path.
func Load(src Source) (*Material, error) {
	privPath := src.PrivateKeyPath
	if privPath == "" {
		privPath = DefaultPrivateKeyPath
	}
	pubPath := src.PublicKeyPath
	if pubPath == "" {
		pubPath = DefaultPublicKeyPath
	}

	priv, privOrigin, err := resolve("private", privPath, src.PrivateKey, src.PrivateKeyB64)
	if err != nil {
		return nil, err
	}
	pub, pubOrigin, err := resolve("public", pubPath, src.PublicKey, src.PublicKeyB64)
	if err != nil {
		return nil, err
	}
	return &Material{PrivatePEM: priv, PublicPEM: pub, PrivateOrigin: privOrigin, PublicOrigin: pubOrigin}, nil
}

func resolve(kind, path string, values ...string) ([]byte, Origin, error) {
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		return decodeValue(kind, v)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read %s key from %s: %w", kind, path, err)
	}
	return b, OriginFile, nil
}

// decodeValue accepts a PEM value as-is or a strictly base64-encoded PEM.
func decodeValue(kind, v string) ([]byte, Origin, error) {
	if strings.Contains(v, pemHeader) {
		// Env files often carry escaped newlines.
		return []byte(strings.ReplaceAll(v, `\n`, "\n")), OriginEnvPEM, nil
	}
	compact := strings.Join(strings.Fields(v), "")
	if !base64Pattern.MatchString(compact) {
		return nil, "", fmt.Errorf("%s key is neither PEM nor base64", kind)
	}
	decoded, err := base64.StdEncoding.DecodeString(compact)
	if err != nil {
		return nil, "", fmt.Errorf("decode base64 %s key: %w", kind, err)
	}
	if !strings.Contains(string(decoded), pemHeader) {
		return nil, "", fmt.Errorf("decoded %s key is not PEM", kind)
	}
	return decoded, OriginEnvBase64, nil
}

// GenerateRSA creates a new key pair encoded as PKCS#1 private / PKIX public PEM.
func GenerateRSA(bits int) (*Material, error) {
	if bits < 2048 {
		return nil, errors.New("rsa key size must be at least 2048 bits")
	}
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	return &Material{
		PrivatePEM: pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}),
		PublicPEM:  pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}),
	}, nil
}
