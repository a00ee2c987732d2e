package gcpauth

import (
	"net/http"

	"go.uber.org/zap"
)

// Options collects the functional options shared by the discovery package
// and every provider constructor. It is exported (rather than the usual
// unexported "options" shape) because the discovery package lives outside
// this one to avoid an import cycle with providers/*, and still needs to
// read the configured logger/HTTP client back out.
type Options struct {
	logger     *zap.Logger
	httpClient *http.Client
}

// Option configures discovery or a provider constructor.
type Option func(*Options)

// WithLogger attaches a structured logger. If unset, providers log nowhere.
func WithLogger(l *zap.Logger) Option {
	return func(o *Options) { o.logger = l }
}

// WithHTTPClient overrides the shared *http.Client used for outbound OAuth2/
// STS/impersonation/metadata requests. If unset, a client with sane timeouts
// is constructed.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Options) { o.httpClient = c }
}

// CollectOptions applies opts over a zero-value Options and returns it.
func CollectOptions(opts ...Option) *Options {
	o := &Options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Logger returns the configured *zap.Logger, or nil if none was set.
func (o *Options) Logger() *zap.Logger { return o.logger }

// HTTPClient returns the configured *http.Client, or nil if none was set.
func (o *Options) HTTPClient() *http.Client { return o.httpClient }
