// Package auth verifies bearer tokens issued by the external identity
// service and resolves them to an opaque caller identity.
//
// The verifier is an explicitly constructed, injected collaborator, never a
// process-wide singleton. Token issuance, refresh, and the wider
// authentication protocol belong to the identity service; this package only
// checks signatures and extracts claims.
package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized is returned for missing, malformed, expired, or otherwise
// unverifiable tokens. Core operations reject such callers before any store
// access.
var ErrUnauthorized = errors.New("unauthorized")

// Identity is the verified caller, as asserted by the identity service.
type Identity struct {
	// Subject is the identity-provider id for the user. Never empty.
	Subject string

	Email     string
	Name      string
	AvatarURL string
}

// Verifier checks a raw bearer token and yields the caller identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// TokenVerifier verifies JWTs against a fixed key and expected issuer.
type TokenVerifier struct {
	issuer  string
	methods []string
	keyfunc jwt.Keyfunc
}

// NewHMACVerifier verifies HS256 tokens signed with a shared secret.
func NewHMACVerifier(secret []byte, issuer string) *TokenVerifier {
	return &TokenVerifier{
		issuer:  issuer,
		methods: []string{jwt.SigningMethodHS256.Alg()},
		keyfunc: func(_ *jwt.Token) (any, error) { return secret, nil },
	}
}

// NewRSAVerifier verifies RS256 tokens against the identity service's
// public key.
func NewRSAVerifier(pub *rsa.PublicKey, issuer string) *TokenVerifier {
	return &TokenVerifier{
		issuer:  issuer,
		methods: []string{jwt.SigningMethodRS256.Alg()},
		keyfunc: func(_ *jwt.Token) (any, error) { return pub, nil },
	}
}

// ParseRSAPublicKey parses a PEM-encoded RSA public key.
func ParseRSAPublicKey(pemBytes []byte) (*rsa.PublicKey, error) {
	return jwt.ParseRSAPublicKeyFromPEM(pemBytes)
}

// Verify parses and validates the token, returning the caller identity.
// Any validation failure maps to ErrUnauthorized.
func (v *TokenVerifier) Verify(_ context.Context, raw string) (Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(v.methods),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := jwt.MapClaims{}
	tok, err := jwt.NewParser(opts...).ParseWithClaims(raw, claims, v.keyfunc)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if !tok.Valid {
		return Identity{}, ErrUnauthorized
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return Identity{}, fmt.Errorf("%w: token missing subject", ErrUnauthorized)
	}

	return Identity{
		Subject:   sub,
		Email:     stringClaim(claims, "email"),
		Name:      stringClaim(claims, "name"),
		AvatarURL: stringClaim(claims, "picture"),
	}, nil
}

func stringClaim(claims jwt.MapClaims, key string) string {
	s, _ := claims[key].(string)
	return s
}

// ExtractBearer pulls the token out of an Authorization header value.
func ExtractBearer(header string) (string, bool) {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return "", false
	}
	return token, true
}
