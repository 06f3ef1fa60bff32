package platformtoken

import (
	"encoding/base64"
	"math/big"

	"github.com/golang-jwt/jwt/v5"
)

// JWK is a single RSA public key in RFC 7517 form.
type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKSet is the document served at /.well-known/jwks.json.
type JWKSet struct {
	Keys []JWK `json:"keys"`
}

// JWKS publishes the verification key so downstream services can look it up by kid.
func (s *Service) JWKS() JWKSet {
	return JWKSet{Keys: []JWK{{
		Kty: "RSA",
		Kid: s.cfg.KeyID,
		Use: "sig",
		Alg: jwt.SigningMethodRS256.Alg(),
		N:   base64.RawURLEncoding.EncodeToString(s.publicKey.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(s.publicKey.E)).Bytes()),
	}}}
}
