// Package signer builds an RSA-PKCS1-v1.5-over-SHA256 signer from a PEM
// PKCS#8 private key, the primitive the JWT assertion builder signs
// service-account assertions with. It is adapted from the PEM-parsing and
// signing pattern the teacher repo uses for its GitHub App JWTs
// (internal/github/app.go). GCP service-account JSON keys ship as PKCS#8;
// like the teacher, New also accepts a PKCS#1 key.
package signer

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// Error kinds surfaced to callers via errors.Is against these sentinels,
// wrapped by the caller into gcpauth.Kind values.
var (
	// ErrNoKey means the PEM text contained no parseable private key.
	ErrNoKey = fmt.Errorf("signer: no private key found in PEM")
	// ErrNotRSA means a key was found but it isn't RSA-compatible with RS256.
	ErrNotRSA = fmt.Errorf("signer: key is not an RSA private key")
)

// Signer signs arbitrary byte strings with RSASSA-PKCS1-v1.5 over SHA-256,
// the scheme GCP's OAuth2 JWT-bearer flow requires (RS256).
type Signer struct {
	key *rsa.PrivateKey
}

// New parses pemPKCS8, a PEM-encoded PKCS#8 private key, and returns a
// Signer over it. If the PEM block contains multiple keys, only the first
// is considered (matching the original gcp_auth library's
// rustls_pemfile::pkcs8_private_keys behavior of truncating to one key).
func New(pemPKCS8 string) (*Signer, error) {
	block, _ := pem.Decode([]byte(pemPKCS8))
	if block == nil {
		return nil, ErrNoKey
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		// Some service-account exports are PKCS#1; tolerate both shapes
		// the way the broader pack's JWT code (teacher's github/app.go)
		// does, even though GCP's own tooling only ever emits PKCS#8.
		if key, err1 := x509.ParsePKCS1PrivateKey(block.Bytes); err1 == nil {
			return &Signer{key: key}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrNoKey, err)
	}

	rsaKey, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, ErrNotRSA
	}
	return &Signer{key: rsaKey}, nil
}

// Sign returns the RSASSA-PKCS1-v1.5-SHA256 signature over input.
func (s *Signer) Sign(input []byte) ([]byte, error) {
	digest := sha256.Sum256(input)
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("signer: sign operation rejected: %w", err)
	}
	return sig, nil
}
