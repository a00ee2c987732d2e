// Package jwtassert assembles and signs the Google OAuth2 JWT-bearer
// assertion used by the service-account token exchange. It reuses
// github.com/golang-jwt/jwt/v5 (already the teacher's JWT library of choice
// — internal/auth/tokens.go issues HS256 session tokens, internal/github/
// app.go issues RS256 GitHub App JWTs with it) purely for its well-tested
// claims-marshaling and base64url three-segment assembly; the actual RSA
// signature is delegated to an internal/signer.Signer so that component
// stays a standalone, independently testable primitive exactly as specified.
package jwtassert

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/aerlon/gcpauth/internal/signer"
)

// maxValiditySeconds is one hour minus a 5s safety margin. GCP rejects
// assertions with a longer validity; implementations should not increase
// this.
const maxValiditySeconds = 3595

// gcpRS256 adapts an *signer.Signer to jwt/v5's SigningMethod so the
// library's header/claims marshaling and base64url assembly can be reused
// while the actual cryptographic operation stays inside internal/signer.
type gcpRS256 struct{}

func (gcpRS256) Alg() string { return "RS256" }

func (gcpRS256) Verify(signingString string, sig []byte, key interface{}) error {
	// Verification is never needed by this library: we only ever sign our
	// own assertions, never validate ones we didn't issue.
	return jwt.ErrInvalidKeyType
}

func (gcpRS256) Sign(signingString string, key interface{}) ([]byte, error) {
	s, ok := key.(*signer.Signer)
	if !ok || s == nil {
		return nil, jwt.ErrInvalidKeyType
	}
	return s.Sign([]byte(signingString))
}

var signingMethod = gcpRS256{}

// Claims holds the inputs to the assertion's JSON claim set (spec.md §4.C).
type Claims struct {
	Issuer   string   // client_email
	Audience string   // caller-supplied audience, or token_uri as fallback
	Subject  string   // optional, for domain-wide delegation
	Scopes   []string // joined with a single space
}

// Build assembles and signs the assertion JWT, returning the three-segment
// base64url-encoded token ready to use as the "assertion" form parameter.
func Build(s *signer.Signer, c Claims) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":   c.Issuer,
		"aud":   c.Audience,
		"iat":   now.Unix(),
		"exp":   now.Unix() + maxValiditySeconds,
		"scope": joinScopes(c.Scopes),
	}
	if c.Subject != "" {
		claims["sub"] = c.Subject
	}

	token := jwt.NewWithClaims(signingMethod, claims)
	return token.SignedString(s)
}

func joinScopes(scopes []string) string {
	out := ""
	for i, sc := range scopes {
		if i > 0 {
			out += " "
		}
		out += sc
	}
	return out
}
