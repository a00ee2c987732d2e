// Package impersonate implements the TokenProvider that wraps a source
// TokenProvider and calls the IAM Credentials `generateAccessToken` endpoint
// to mint a token as a different principal, optionally via a chain of
// delegates, per spec.md §4.J.
package impersonate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/aerlon/gcpauth"
	"github.com/aerlon/gcpauth/internal/obslog"
	"github.com/aerlon/gcpauth/internal/tokencache"
	"github.com/aerlon/gcpauth/internal/transport"
)

const op = "impersonate"

// defaultLifetimeSeconds is used when no explicit lifetime is requested.
const defaultLifetimeSeconds = 3600

// Provider implements gcpauth.TokenProvider by impersonating targetURL's
// service account, sourcing its own bearer token from source.
type Provider struct {
	source    gcpauth.TokenProvider
	targetURL string
	delegates []string

	client *transport.Client
	cache  *tokencache.Cache
	log    *obslog.Logger
}

type tokenAdapter struct{ *gcpauth.Token }

func (t tokenAdapter) Expired() bool    { return t.Token.Expired() }
func (t tokenAdapter) NearExpiry() bool { return t.Token.NearExpiry() }

// New builds a Provider. targetURL is the IAM Credentials
// `:generateAccessToken` endpoint for the target principal; delegates is the
// ordered chain of intermediate principals (may be empty).
func New(source gcpauth.TokenProvider, targetURL string, delegates []string, transportClient *transport.Client, log *obslog.Logger) *Provider {
	return &Provider{
		source:    source,
		targetURL: targetURL,
		delegates: delegates,
		client:    transportClient,
		cache:     tokencache.New(log),
		log:       log,
	}
}

var _ gcpauth.TokenProvider = (*Provider)(nil)

type generateAccessTokenRequest struct {
	Lifetime  string   `json:"lifetime,omitempty"`
	Scope     []string `json:"scope,omitempty"`
	Delegates []string `json:"delegates,omitempty"`
}

type generateAccessTokenResponse struct {
	AccessToken string `json:"accessToken"`
	ExpireTime  string `json:"expireTime"`
}

// Token asks source for a token over scopes, then exchanges it at targetURL
// for an impersonated token, cached per scope set.
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
	sourceTok, err := p.source.Token(ctx, scopes...)
	if err != nil {
		return nil, err
	}
	return generateAccessToken(ctx, p.client, p.log, p.targetURL, p.delegates, sourceTok, scopes)
}

// ProjectID delegates to the source provider, since the impersonated
// principal's project is not derivable from the access token alone.
func (p *Provider) ProjectID(ctx context.Context) (string, error) {
	return p.source.ProjectID(ctx)
}

// StaticExchanger performs a single IAM Credentials generateAccessToken call
// against an already-obtained bearer token, without owning a source
// TokenProvider or a cache of its own. It implements
// providers/externalaccount.Impersonator, covering spec.md §4.K step 3's
// "use the federated token to call the impersonation endpoint" chaining,
// where the federated token (not a TokenProvider) is the thing being
// exchanged.
type StaticExchanger struct {
	TargetURL string
	Delegates []string
	Client    *transport.Client
	Log       *obslog.Logger
}

// Exchange calls generateAccessToken with federatedToken as the bearer
// credential.
func (s *StaticExchanger) Exchange(ctx context.Context, federatedToken *gcpauth.Token, scopes []string) (*gcpauth.Token, error) {
	return generateAccessToken(ctx, s.Client, s.Log, s.TargetURL, s.Delegates, federatedToken, scopes)
}

func generateAccessToken(ctx context.Context, client *transport.Client, log *obslog.Logger, targetURL string, delegates []string, sourceTok *gcpauth.Token, scopes []string) (*gcpauth.Token, error) {
	payload, err := json.Marshal(generateAccessTokenRequest{
		Lifetime:  fmt.Sprintf("%ds", defaultLifetimeSeconds),
		Scope:     scopes,
		Delegates: delegates,
	})
	if err != nil {
		return nil, gcpauth.NewError(op+".Token", gcpauth.KindCredentialsFormatInvalid, err)
	}

	if log != nil {
		log.Debugw("calling IAM Credentials generateAccessToken", "target_url", targetURL)
	}

	factory := func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+sourceTok.AccessToken())
		return req, nil
	}

	raw, err := client.PlainRequest(ctx, factory, op)
	if err != nil {
		return nil, gcpauth.ClassifyTransportErr(op+".Token", err)
	}

	var resp generateAccessTokenResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, gcpauth.NewError(op+".Token", gcpauth.KindCredentialsFormatInvalid, fmt.Errorf("decoding generateAccessToken response: %w", err))
	}
	if resp.AccessToken == "" {
		return nil, gcpauth.NewError(op+".Token", gcpauth.KindCredentialsFormatInvalid, fmt.Errorf("generateAccessToken response missing accessToken"))
	}

	expiresAt, err := time.Parse(time.RFC3339, resp.ExpireTime)
	if err != nil {
		return nil, gcpauth.NewError(op+".Token", gcpauth.KindCredentialsFormatInvalid, fmt.Errorf("parsing expireTime: %w", err))
	}

	return gcpauth.NewTokenWithExpiry(resp.AccessToken, expiresAt), nil
}
