package gcpauth

import (
	"context"
	"sort"
	"strings"
)

// TokenProvider is the capability every credential source implements. The
// discovery selector returns this abstract capability so that callers never
// need to know whether a token came from a service-account key, the GCE
// metadata server, impersonation, workload identity federation, or the
// gcloud CLI.
type TokenProvider interface {
	// Token returns a valid bearer token for the given scopes, refreshing
	// it if necessary. Providers whose tokens are not scope-parameterized
	// (user-refresh, metadata, gcloud) ignore scopes.
	Token(ctx context.Context, scopes ...string) (*Token, error)

	// ProjectID returns the GCP project id associated with the credential,
	// or a KindNoProjectID error if the source does not expose one.
	ProjectID(ctx context.Context) (string, error)
}

// ScopeKey canonicalizes a scope set into a stable cache key by sorting a
// copy of the input before joining. This resolves spec.md's open question
// in favor of the safe default: insertion order never affects cache hits.
// Providers use it as the key they hand to internal/tokencache.
func ScopeKey(scopes []string) string {
	if len(scopes) == 0 {
		return ""
	}
	sorted := make([]string, len(scopes))
	copy(sorted, scopes)
	sort.Strings(sorted)
	return strings.Join(sorted, "\n")
}

// JoinScopes joins scopes with a single ASCII space, the form GCP's OAuth2
// and STS endpoints expect in the "scope" parameter/claim.
func JoinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}
