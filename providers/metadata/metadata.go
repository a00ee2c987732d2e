// Package metadata implements the TokenProvider backed by the GCE/GKE/Cloud
// Run metadata server. Detection is construction: New performs a live probe
// of the token endpoint and only succeeds if it gets back a parsable token,
// establishing that the process is running on GCP compute, per spec.md §4.H.
package metadata

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/aerlon/gcpauth"
	"github.com/aerlon/gcpauth/internal/obslog"
	"github.com/aerlon/gcpauth/internal/tokencache"
	"github.com/aerlon/gcpauth/internal/transport"
)

const op = "metadata"

// baseURL and its derived paths are vars, not consts, so tests can redirect
// them at an httptest.Server standing in for the metadata server.
var (
	baseURL       = "http://metadata.google.internal/computeMetadata/v1"
	tokenPath     = baseURL + "/instance/service-accounts/default/token"
	projectIDPath = baseURL + "/project/project-id"
)

const scopeIndependentKey = ""

// Provider implements gcpauth.TokenProvider by querying the metadata server.
type Provider struct {
	client *transport.Client
	cache  *tokencache.Cache
	log    *obslog.Logger

	projectID string
}

type tokenAdapter struct{ *gcpauth.Token }

func (t tokenAdapter) Expired() bool    { return t.Token.Expired() }
func (t tokenAdapter) NearExpiry() bool { return t.Token.NearExpiry() }

func metadataRequest(ctx context.Context, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Metadata-Flavor", "Google")
	return req, nil
}

// New probes the metadata server; it fails (KindTransport or
// KindAuthEndpointFailed) if the process is not running on GCP compute.
// The project id is fetched once and cached for the provider's lifetime.
func New(ctx context.Context, transportClient *transport.Client, log *obslog.Logger) (*Provider, error) {
	p := &Provider{
		client: transportClient,
		cache:  tokencache.New(log),
		log:    log,
	}

	if log != nil {
		log.Debugw("probing GCE metadata server", "url", tokenPath)
	}

	// Probe through the cache so the token obtained here serves the first
	// Token call.
	if _, err := p.Token(ctx); err != nil {
		return nil, err
	}

	projectID, err := p.client.PlainRequest(ctx, func(ctx context.Context) (*http.Request, error) {
		return metadataRequest(ctx, projectIDPath)
	}, op)
	if err != nil {
		return nil, gcpauth.ClassifyTransportErr(op+".New", err)
	}
	p.projectID = strings.TrimSpace(string(projectID))

	return p, nil
}

var _ gcpauth.TokenProvider = (*Provider)(nil)

// Token returns the instance's attached-service-account token, ignoring
// scopes: the metadata server grants whatever scopes the instance was
// configured with.
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

func (p *Provider) fetch(ctx context.Context) (*gcpauth.Token, error) {
	resp, err := p.client.ExchangeForToken(ctx, func(ctx context.Context) (*http.Request, error) {
		return metadataRequest(ctx, tokenPath)
	}, op)
	if err != nil {
		return nil, gcpauth.ClassifyTransportErr(op+".Token", err)
	}
	return gcpauth.NewToken(resp.AccessToken, time.Duration(resp.ExpiresIn)*time.Second), nil
}

// ProjectID returns the project id fetched at construction.
func (p *Provider) ProjectID(ctx context.Context) (string, error) {
	if p.projectID == "" {
		return "", gcpauth.NewNoProjectIDError(op + ".ProjectID")
	}
	return p.projectID, nil
}
