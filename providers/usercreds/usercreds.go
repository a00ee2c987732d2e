// Package usercreds implements the TokenProvider backed by a user refresh
// token (the "authorized_user" credential produced by
// `gcloud auth application-default login`). Scopes are ignored: a refresh
// token grant is not scope-parameterizable, so the provider holds a single
// cached token rather than a scope-keyed map, per spec.md §4.G.
package usercreds

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/aerlon/gcpauth"
	"github.com/aerlon/gcpauth/internal/credfile"
	"github.com/aerlon/gcpauth/internal/obslog"
	"github.com/aerlon/gcpauth/internal/tokencache"
	"github.com/aerlon/gcpauth/internal/transport"
)

const op = "usercreds"

// tokenEndpoint is the fixed refresh-token grant endpoint; unlike the
// service-account flow, this is not read from the credential file. It is a
// var, not a const, so tests can point it at an httptest.Server.
var tokenEndpoint = "https://accounts.google.com/o/oauth2/token"

// scopeIndependentKey is the single cache entry's key: this provider ignores
// caller-supplied scopes entirely.
const scopeIndependentKey = ""

// Provider implements gcpauth.TokenProvider for a user refresh token.
type Provider struct {
	creds  *credfile.UserRefreshToken
	client *transport.Client
	cache  *tokencache.Cache
	log    *obslog.Logger
}

type tokenAdapter struct{ *gcpauth.Token }

func (t tokenAdapter) Expired() bool    { return t.Token.Expired() }
func (t tokenAdapter) NearExpiry() bool { return t.Token.NearExpiry() }

// New builds a Provider from an already-parsed user refresh token. Per
// spec.md §4.G it fetches an initial token immediately rather than lazily on
// first Token() call.
func New(ctx context.Context, creds *credfile.UserRefreshToken, transportClient *transport.Client, log *obslog.Logger) (*Provider, error) {
	p := &Provider{
		creds:  creds,
		client: transportClient,
		cache:  tokencache.New(log),
		log:    log,
	}
	if _, err := p.Token(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

var _ gcpauth.TokenProvider = (*Provider)(nil)

// Token returns the cached token, ignoring scopes (see package doc).
func (p *Provider) Token(ctx context.Context, scopes ...string) (*gcpauth.Token, error) {
	tok, err := p.cache.Get(ctx, scopeIndependentKey, func(ctx context.Context) (tokencache.Token, error) {
		t, err := p.fetch(ctx)
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

type refreshRequestBody struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	GrantType    string `json:"grant_type"`
	RefreshToken string `json:"refresh_token"`
}

func (p *Provider) fetch(ctx context.Context) (*gcpauth.Token, error) {
	payload, err := json.Marshal(refreshRequestBody{
		ClientID:     p.creds.ClientID,
		ClientSecret: p.creds.ClientSecret,
		GrantType:    "refresh_token",
		RefreshToken: p.creds.RefreshToken,
	})
	if err != nil {
		return nil, gcpauth.NewError(op+".Token", gcpauth.KindCredentialsFormatInvalid, err)
	}

	if p.log != nil {
		p.log.Debugw("refreshing user credentials access token", "endpoint", tokenEndpoint)
	}

	factory := func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenEndpoint, strings.NewReader(string(payload)))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}

	resp, err := p.client.ExchangeForToken(ctx, factory, op)
	if err != nil {
		return nil, gcpauth.ClassifyTransportErr(op+".Token", err)
	}
	return gcpauth.NewToken(resp.AccessToken, time.Duration(resp.ExpiresIn)*time.Second), nil
}

// ProjectID returns the credential's quota_project_id, or KindNoProjectID.
func (p *Provider) ProjectID(ctx context.Context) (string, error) {
	if p.creds.QuotaProjectID == "" {
		return "", gcpauth.NewNoProjectIDError(op + ".ProjectID")
	}
	return p.creds.QuotaProjectID, nil
}
