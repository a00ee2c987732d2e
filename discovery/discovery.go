// Package discovery implements the ordered provider-selection probe (spec.md
// §4.L): environment-configured credentials file, then the well-known
// user-default ADC file, then the GCE/GKE metadata server, then the gcloud
// CLI — returning the first that succeeds. It lives in its own package
// (rather than the gcpauth root) because it must import every concrete
// providers/* package, each of which imports the gcpauth root directly for
// *gcpauth.Token/TokenProvider; folding discovery into the root package
// would create an import cycle. This mirrors the separation the teacher
// keeps between its registry's capability interface
// (internal/mcp/provider.go) and the concrete registrations that populate it
// (internal/mcp/registry.go callers).
package discovery

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"runtime"

	"github.com/aerlon/gcpauth"
	"github.com/aerlon/gcpauth/internal/credfile"
	"github.com/aerlon/gcpauth/internal/obslog"
	"github.com/aerlon/gcpauth/internal/signer"
	"github.com/aerlon/gcpauth/internal/transport"
	"github.com/aerlon/gcpauth/providers/externalaccount"
	"github.com/aerlon/gcpauth/providers/gcloudcli"
	"github.com/aerlon/gcpauth/providers/impersonate"
	"github.com/aerlon/gcpauth/providers/metadata"
	"github.com/aerlon/gcpauth/providers/serviceaccount"
	"github.com/aerlon/gcpauth/providers/usercreds"
)

// goos is the runtime.GOOS value used to pick the gcloud executable name;
// overridable in tests.
var goos = runtime.GOOS

// Select performs the ordered discovery probe and returns the first
// TokenProvider that can be constructed. If every probe fails, the returned
// error is a KindNoAuthMethod composite carrying the user-default, metadata,
// and gcloud sub-errors in that order (spec.md §4.L/§8 property 8).
func Select(ctx context.Context, opts ...gcpauth.Option) (gcpauth.TokenProvider, error) {
	o := gcpauth.CollectOptions(opts...)
	log := obslog.New(o.Logger(), "discovery")
	client := transport.New(o.HTTPClient())

	if path, ok := credfile.EnvCredentialsPath(); ok {
		log.Debugw("GOOGLE_APPLICATION_CREDENTIALS set, loading", "path", path)
		parsed, err := credfile.LoadFromPath(path)
		if err != nil {
			return nil, classifyLoadErr("discovery.Select", err)
		}
		p, err := buildProvider(ctx, parsed, client, log)
		if err != nil {
			return nil, err
		}
		return p, nil
	}

	var userErr, metadataErr, gcloudErr error

	if parsed, err := credfile.LoadUserDefaultCredentials(); err == nil {
		if p, berr := buildProvider(ctx, parsed, client, log); berr == nil {
			log.Debugw("selected user-default credentials")
			return p, nil
		} else {
			userErr = berr
		}
	} else {
		userErr = err
	}

	if p, err := metadata.New(ctx, client, obslog.New(o.Logger(), "metadata")); err == nil {
		log.Debugw("selected GCE metadata server")
		return p, nil
	} else {
		metadataErr = err
	}

	if p, err := gcloudcli.New(ctx, goos, obslog.New(o.Logger(), "gcloudcli")); err == nil {
		log.Debugw("selected gcloud CLI")
		return p, nil
	} else {
		gcloudErr = err
	}

	return nil, gcpauth.NewNoAuthMethodError(userErr, metadataErr, gcloudErr)
}

// buildProvider dispatches a parsed credential object to the matching
// provider constructor, recursing once for impersonation (nested
// impersonation was already rejected at parse time by internal/credfile).
func buildProvider(ctx context.Context, parsed interface{}, client *transport.Client, log *obslog.Logger) (gcpauth.TokenProvider, error) {
	switch v := parsed.(type) {
	case *credfile.ServiceAccountKey:
		return serviceaccount.New(v, client, obslog.New(log.Base(), "serviceaccount")), nil

	case *credfile.UserRefreshToken:
		return usercreds.New(ctx, v, client, obslog.New(log.Base(), "usercreds"))

	case *credfile.ExternalAccountConfig:
		var exchanger externalaccount.Impersonator
		if v.ServiceAccountImpersonationURL != "" {
			exchanger = &impersonate.StaticExchanger{
				TargetURL: v.ServiceAccountImpersonationURL,
				Client:    client,
				Log:       obslog.New(log.Base(), "impersonate"),
			}
		}
		return externalaccount.New(v, exchanger, client, obslog.New(log.Base(), "externalaccount")), nil

	case *credfile.ImpersonationConfig:
		source, err := buildProvider(ctx, v.Source, client, log)
		if err != nil {
			return nil, err
		}
		return impersonate.New(source, v.TargetURL, v.Delegates, client, obslog.New(log.Base(), "impersonate")), nil

	default:
		return nil, gcpauth.NewCredentialsFormatInvalidError("discovery.Select",
			fmt.Errorf("unrecognized parsed credential type %T", parsed))
	}
}

// classifyLoadErr maps a credentials-file load failure onto the error
// taxonomy: an unreadable file is KindCredentialsPathInvalid, a nested
// impersonation is KindNestedImpersonation, bad key material is
// KindSignerInit, and anything else (invalid JSON, missing fields, unknown
// type) is KindCredentialsFormatInvalid.
func classifyLoadErr(op string, err error) *gcpauth.Error {
	var pathErr *fs.PathError
	switch {
	case errors.As(err, &pathErr):
		return gcpauth.NewCredentialsPathInvalidError(op, err)
	case errors.Is(err, credfile.ErrNestedImpersonation):
		return gcpauth.NewNestedImpersonationError(op, err)
	case errors.Is(err, signer.ErrNoKey), errors.Is(err, signer.ErrNotRSA):
		return gcpauth.NewSignerInitError(op, err)
	default:
		return gcpauth.NewCredentialsFormatInvalidError(op, err)
	}
}
