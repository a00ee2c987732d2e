// Package serviceaccount implements the TokenProvider backed by a GCP
// service-account JSON key: a JWT-bearer assertion is signed with the key's
// private key and exchanged at token_uri for an access token. It generalizes
// the JWT-then-exchange flow the teacher performs inline in
// internal/github/app.go (build assertion, POST it, parse the response) into
// a provider that also owns its own per-scope-set cache via
// internal/tokencache, satisfying spec.md §4.F.
package serviceaccount

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aerlon/gcpauth"
	"github.com/aerlon/gcpauth/internal/credfile"
	"github.com/aerlon/gcpauth/internal/jwtassert"
	"github.com/aerlon/gcpauth/internal/obslog"
	"github.com/aerlon/gcpauth/internal/tokencache"
	"github.com/aerlon/gcpauth/internal/transport"
)

const op = "serviceaccount"

// Provider implements gcpauth.TokenProvider for a service-account key.
type Provider struct {
	key      *credfile.ServiceAccountKey
	subject  string // optional, for domain-wide delegation
	audience string // overrides token_uri as the JWT "aud" claim, if set

	client *transport.Client
	cache  *tokencache.Cache
	log    *obslog.Logger
}

// Option configures a Provider at construction.
type Option func(*Provider)

// WithSubject sets the JWT "sub" claim for domain-wide delegation.
func WithSubject(subject string) Option {
	return func(p *Provider) { p.subject = subject }
}

// WithAudience overrides the JWT "aud" claim; defaults to the key's token_uri.
func WithAudience(audience string) Option {
	return func(p *Provider) { p.audience = audience }
}

// New builds a Provider from an already-parsed service-account key.
func New(key *credfile.ServiceAccountKey, transportClient *transport.Client, log *obslog.Logger, opts ...Option) *Provider {
	p := &Provider{
		key:    key,
		client: transportClient,
		cache:  tokencache.New(log),
		log:    log,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var _ gcpauth.TokenProvider = (*Provider)(nil)

// tokenAdapter satisfies tokencache.Token while wrapping a *gcpauth.Token, so
// internal/tokencache never needs to import the root package.
type tokenAdapter struct{ *gcpauth.Token }

func (t tokenAdapter) Expired() bool   { return t.Token.Expired() }
func (t tokenAdapter) NearExpiry() bool { return t.Token.NearExpiry() }

// Token returns a bearer token covering scopes, rebuilding and exchanging the
// JWT assertion on cache miss/expiry. Per spec.md §4.F, step 2, the assertion
// is rebuilt with the current clock on every refresh, never reused.
func (p *Provider) Token(ctx context.Context, scopes ...string) (*gcpauth.Token, error) {
	key := gcpauth.ScopeKey(scopes)

	tok, err := p.cache.Get(ctx, key, func(ctx context.Context) (tokencache.Token, error) {
		t, err := p.fetch(ctx, scopes)
		if err != nil {
			return nil, err
		}
		return tokenAdapter{t}, nil
	})
	if err != nil {
		return nil, err
	}
	return tok.(tokenAdapter).Token, nil
}

func (p *Provider) fetch(ctx context.Context, scopes []string) (*gcpauth.Token, error) {
	aud := p.audience
	if aud == "" {
		aud = p.key.TokenURI
	}

	assertion, err := jwtassert.Build(p.key.Signer, jwtassert.Claims{
		Issuer:   p.key.ClientEmail,
		Audience: aud,
		Subject:  p.subject,
		Scopes:   scopes,
	})
	if err != nil {
		return nil, gcpauth.NewSignerFailedError(op+".Token", err)
	}

	form := url.Values{}
	form.Set("grant_type", "urn:ietf:params:oauth:grant-type:jwt-bearer")
	form.Set("assertion", assertion)
	body := form.Encode()

	if p.log != nil {
		p.log.Debugw("exchanging service-account JWT assertion", "token_uri", p.key.TokenURI, "scope_count", len(scopes))
	}

	factory := func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.key.TokenURI, strings.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	}

	resp, err := p.client.ExchangeForToken(ctx, factory, op)
	if err != nil {
		return nil, gcpauth.ClassifyTransportErr(op+".Token", err)
	}
	return gcpauth.NewToken(resp.AccessToken, time.Duration(resp.ExpiresIn)*time.Second), nil
}

// ProjectID returns the project id embedded in the key, or KindNoProjectID.
func (p *Provider) ProjectID(ctx context.Context) (string, error) {
	if p.key.ProjectID == "" {
		return "", gcpauth.NewNoProjectIDError(op + ".ProjectID")
	}
	return p.key.ProjectID, nil
}
