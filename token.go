// Package gcpauth provides a pluggable token provider for Google Cloud
// Platform workloads: it discovers an available credential source (a
// service-account key, user refresh token, the GCE/GKE metadata server,
// impersonation, workload identity federation, or the gcloud CLI) and hands
// back short-lived OAuth2 bearer tokens without the caller needing to know
// which source was used.
package gcpauth

import (
	"fmt"
	"time"
)

// safetyMargin is subtracted from a token's expiry before comparing against
// now. GCP's own client libraries use 10-30s; 20s is a conservative midpoint.
const safetyMargin = 20 * time.Second

// proactiveRefreshWindow is how long before expiry a still-valid token
// triggers a background best-effort refresh.
const proactiveRefreshWindow = 60 * time.Second

// DefaultTokenDuration is used by sources that do not return their own
// lifetime (the gcloud CLI).
const DefaultTokenDuration = time.Hour

// Token is an immutable bearer token with an expiry. It is cheap to share:
// once constructed it is never mutated, so callers may hold a *Token across
// goroutines freely. Its string form is never exposed through String or
// GoString to avoid accidentally leaking it into logs.
type Token struct {
	accessToken string
	expiresAt   time.Time
}

// NewToken builds a Token whose lifetime is exactly lifetime starting now.
func NewToken(accessToken string, lifetime time.Duration) *Token {
	return &Token{
		accessToken: accessToken,
		expiresAt:   time.Now().Add(lifetime),
	}
}

// NewTokenWithExpiry builds a Token with an explicit absolute expiry, used by
// flows (impersonation) that receive an RFC 3339 expireTime from the server
// rather than a relative duration.
func NewTokenWithExpiry(accessToken string, expiresAt time.Time) *Token {
	return &Token{accessToken: accessToken, expiresAt: expiresAt}
}

// AccessToken returns the raw bearer token string. Callers should treat this
// as sensitive and never log it.
func (t *Token) AccessToken() string {
	if t == nil {
		return ""
	}
	return t.accessToken
}

// ExpiresAt returns the absolute instant the token stops being usable
// (before the safety margin is applied).
func (t *Token) ExpiresAt() time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.expiresAt
}

// Expired reports whether the token is expired, applying the 20s safety
// margin: a token is considered expired once now + 20s >= expiresAt.
func (t *Token) Expired() bool {
	if t == nil {
		return true
	}
	return !time.Now().Add(safetyMargin).Before(t.expiresAt)
}

// NearExpiry reports whether the token is still valid but will expire within
// the proactive refresh window, making it a candidate for a background
// refresh attempt.
func (t *Token) NearExpiry() bool {
	if t == nil {
		return false
	}
	return !t.Expired() && time.Now().Add(proactiveRefreshWindow).After(t.expiresAt)
}

// String redacts the access token, matching the original gcp_auth library's
// Debug impl (access_token is masked, expires_at is not).
func (t *Token) String() string {
	if t == nil {
		return "Token(nil)"
	}
	return fmt.Sprintf("Token{access_token: \"****\", expires_at: %s}", t.expiresAt.Format(time.RFC3339))
}

// GoString implements fmt.GoStringer so %#v formatting also redacts.
func (t *Token) GoString() string {
	return t.String()
}
