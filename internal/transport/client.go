// Package transport provides the shared HTTPS client wrapper every provider
// exchanges tokens through: bounded retry on transport failure, non-2xx
// responses surfaced as typed errors, and a narrow decode path for the
// {access_token, expires_in} token response shape GCP's OAuth2/STS endpoints
// return. It generalizes the plain *http.Client-with-retryless-error-path
// pattern the teacher uses directly in internal/cloud/gcp.go and
// internal/github/app.go into a single reusable component.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxAttempts bounds retries on transport-level failure; non-2xx responses
// are never retried.
const maxAttempts = 5

// Client wraps an *http.Client with the retry/error semantics spec.md §4.D
// requires. It is safe for concurrent use and is shared across providers.
type Client struct {
	http *http.Client
}

// New wraps base (a nil base gets a client with a conservative timeout).
func New(base *http.Client) *Client {
	if base == nil {
		base = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{http: base}
}

// TokenResponse is the GCP-shaped OAuth2/STS token response body.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
	ExpiresIn   int64  `json:"expires_in"`
}

// AuthEndpointError mirrors gcpauth.AuthEndpointError without importing the
// root package (which imports this one), so the root package wraps this on
// the way out.
type AuthEndpointError struct {
	Status int
	Body   string
}

func (e *AuthEndpointError) Error() string {
	return fmt.Sprintf("auth endpoint failed: status=%d body=%s", e.Status, e.Body)
}

// RequestFactory builds one attempt's *http.Request. It is invoked once per
// retry attempt and MUST be safe to call repeatedly (any body must be
// re-readable each time, e.g. built from bytes.NewReader over an in-memory
// buffer rather than a one-shot io.Reader).
type RequestFactory func(ctx context.Context) (*http.Request, error)

// ExchangeForToken performs request, retrying up to maxAttempts times on
// transport-level failure. A non-2xx response is never retried and is
// returned as an *AuthEndpointError (the body is included in the error but
// must never be logged by callers at info/default level). On success the
// body is decoded as TokenResponse.
func (c *Client) ExchangeForToken(ctx context.Context, factory RequestFactory, providerName string) (*TokenResponse, error) {
	body, err := c.do(ctx, factory, providerName)
	if err != nil {
		return nil, err
	}

	var tr TokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("%s: failed to decode token response: %w", providerName, err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("%s: token response missing access_token", providerName)
	}
	return &tr, nil
}

// PlainRequest performs request, retrying like ExchangeForToken, but returns
// the raw response body instead of decoding it as a token. Used by flows
// that fetch a project id or a subject token rather than a bearer token.
func (c *Client) PlainRequest(ctx context.Context, factory RequestFactory, providerName string) ([]byte, error) {
	return c.do(ctx, factory, providerName)
}

func (c *Client) do(ctx context.Context, factory RequestFactory, providerName string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		req, err := factory(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to build request: %w", providerName, err)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("%s: %w", providerName, &AuthEndpointError{
				Status: resp.StatusCode,
				Body:   string(body),
			})
		}

		return body, nil
	}
	return nil, fmt.Errorf("%s: transport failed after %d attempts: %w", providerName, maxAttempts, lastErr)
}
