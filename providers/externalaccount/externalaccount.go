// Package externalaccount implements the TokenProvider for Workload Identity
// Federation: a subject token from an external identity provider (read from
// a file or fetched from a URL) is exchanged at Google's Security Token
// Service for a short-lived GCP access token, optionally followed by
// impersonation, per spec.md §4.K.
package externalaccount

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/aerlon/gcpauth"
	"github.com/aerlon/gcpauth/internal/credfile"
	"github.com/aerlon/gcpauth/internal/obslog"
	"github.com/aerlon/gcpauth/internal/tokencache"
	"github.com/aerlon/gcpauth/internal/transport"
)

const op = "externalaccount"

const requestedTokenType = "urn:ietf:params:oauth:token-type:access_token"

const defaultSubjectTokenFieldName = "access_token"

// Impersonator performs impersonation using the federated token as the
// source. Kept as an interface (rather than importing providers/impersonate
// directly) so this package has no dependency on that one; discovery.go
// wires the concrete implementation.
type Impersonator interface {
	Exchange(ctx context.Context, federatedToken *gcpauth.Token, scopes []string) (*gcpauth.Token, error)
}

// Provider implements gcpauth.TokenProvider for an external_account
// credential.
type Provider struct {
	cfg          *credfile.ExternalAccountConfig
	impersonator Impersonator // nil if no service_account_impersonation_url

	client *transport.Client
	cache  *tokencache.Cache
	log    *obslog.Logger
}

type tokenAdapter struct{ *gcpauth.Token }

func (t tokenAdapter) Expired() bool    { return t.Token.Expired() }
func (t tokenAdapter) NearExpiry() bool { return t.Token.NearExpiry() }

// New builds a Provider. impersonator may be nil; it is only used if cfg sets
// ServiceAccountImpersonationURL.
func New(cfg *credfile.ExternalAccountConfig, impersonator Impersonator, transportClient *transport.Client, log *obslog.Logger) *Provider {
	return &Provider{
		cfg:          cfg,
		impersonator: impersonator,
		client:       transportClient,
		cache:        tokencache.New(log),
		log:          log,
	}
}

var _ gcpauth.TokenProvider = (*Provider)(nil)

// Token exchanges the subject token at STS for a federated token, then
// impersonates if configured, caching the result per scope set.
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
	subjectToken, err := p.subjectToken(ctx)
	if err != nil {
		return nil, err
	}

	federated, err := p.exchangeSTS(ctx, subjectToken, scopes)
	if err != nil {
		return nil, err
	}

	if p.cfg.ServiceAccountImpersonationURL == "" {
		return federated, nil
	}
	if p.impersonator == nil {
		return nil, gcpauth.NewError(op+".Token", gcpauth.KindCredentialsFormatInvalid,
			fmt.Errorf("service_account_impersonation_url set but no impersonator wired"))
	}
	return p.impersonator.Exchange(ctx, federated, scopes)
}

// subjectToken obtains the raw subject token per §4.K step 1.
func (p *Provider) subjectToken(ctx context.Context) (string, error) {
	var raw []byte
	var err error

	switch {
	case p.cfg.CredentialSource.File != "":
		raw, err = os.ReadFile(p.cfg.CredentialSource.File)
		if err != nil {
			return "", gcpauth.NewCredentialsPathInvalidError(op+".Token", err)
		}
	case p.cfg.CredentialSource.URL != "":
		factory := func(ctx context.Context) (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.CredentialSource.URL, nil)
			if err != nil {
				return nil, err
			}
			for k, v := range p.cfg.CredentialSource.Headers {
				req.Header.Set(k, v)
			}
			return req, nil
		}
		raw, err = p.client.PlainRequest(ctx, factory, op)
		if err != nil {
			return "", gcpauth.ClassifyTransportErr(op+".Token", err)
		}
	default:
		return "", gcpauth.NewCredentialsFormatInvalidError(op+".Token",
			fmt.Errorf("credential_source has neither file nor url"))
	}

	if p.cfg.CredentialSource.Format.Type == "json" {
		field := p.cfg.CredentialSource.Format.SubjectTokenFieldName
		if field == "" {
			field = defaultSubjectTokenFieldName
		}
		var doc map[string]interface{}
		if err := json.Unmarshal(raw, &doc); err != nil {
			return "", gcpauth.NewCredentialsFormatInvalidError(op+".Token", err)
		}
		v, ok := doc[field].(string)
		if !ok {
			return "", gcpauth.NewCredentialsFormatInvalidError(op+".Token",
				fmt.Errorf("credential_source json missing field %q", field))
		}
		return v, nil
	}

	return strings.TrimSpace(string(raw)), nil
}

func (p *Provider) exchangeSTS(ctx context.Context, subjectToken string, scopes []string) (*gcpauth.Token, error) {
	form := url.Values{}
	form.Set("grant_type", "urn:ietf:params:oauth:grant-type:token-exchange")
	form.Set("audience", p.cfg.Audience)
	form.Set("subject_token", subjectToken)
	form.Set("subject_token_type", p.cfg.SubjectTokenType)
	form.Set("requested_token_type", requestedTokenType)
	form.Set("scope", gcpauth.JoinScopes(scopes))
	body := form.Encode()

	if p.log != nil {
		p.log.Debugw("exchanging subject token at STS", "token_url", p.cfg.TokenURL)
	}

	factory := func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.TokenURL, strings.NewReader(body))
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

// ProjectID returns the credential's quota_project_id, or KindNoProjectID.
func (p *Provider) ProjectID(ctx context.Context) (string, error) {
	if p.cfg.QuotaProjectID == "" {
		return "", gcpauth.NewNoProjectIDError(op + ".ProjectID")
	}
	return p.cfg.QuotaProjectID, nil
}
