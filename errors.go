package gcpauth

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/aerlon/gcpauth/internal/transport"
)

// Kind tags the distinct error taxonomy from spec.md §7. Callers that need
// to branch on failure mode should use IsKind rather than string-matching
// error text.
type Kind int

const (
	_ Kind = iota
	// KindNoAuthMethod means every discovery path failed; Err is a
	// *multierror.Error carrying the user-default, metadata, and gcloud
	// sub-errors in that order.
	KindNoAuthMethod
	// KindCredentialsPathInvalid means a referenced credentials file could
	// not be opened.
	KindCredentialsPathInvalid
	// KindCredentialsFormatInvalid means a credentials file was not valid
	// JSON, didn't match any known schema, or had an unrecognized "type".
	KindCredentialsFormatInvalid
	// KindSignerInit means the PEM key material was malformed or wasn't RSA.
	KindSignerInit
	// KindSignerFailed means the underlying crypto operation refused to sign.
	KindSignerFailed
	// KindAuthEndpointFailed means a non-2xx response from an OAuth/STS/
	// impersonation endpoint. Err wraps an *AuthEndpointError.
	KindAuthEndpointFailed
	// KindTransport means a connection/transport failure after retries.
	KindTransport
	// KindNoProjectID means a project id was requested from a source that
	// does not expose one.
	KindNoProjectID
	// KindNestedImpersonation means a load-time refusal of a credential
	// config whose impersonation source is itself impersonated.
	KindNestedImpersonation
	// KindGCloudNotFound means the gcloud executable could not be located
	// on PATH.
	KindGCloudNotFound
	// KindGCloudFailed means the gcloud subprocess exited non-zero.
	KindGCloudFailed
	// KindGCloudParse means gcloud's stdout was not valid UTF-8.
	KindGCloudParse
)

func (k Kind) String() string {
	switch k {
	case KindNoAuthMethod:
		return "no_auth_method"
	case KindCredentialsPathInvalid:
		return "credentials_path_invalid"
	case KindCredentialsFormatInvalid:
		return "credentials_format_invalid"
	case KindSignerInit:
		return "signer_init"
	case KindSignerFailed:
		return "signer_failed"
	case KindAuthEndpointFailed:
		return "auth_endpoint_failed"
	case KindTransport:
		return "transport"
	case KindNoProjectID:
		return "no_project_id"
	case KindNestedImpersonation:
		return "nested_impersonation"
	case KindGCloudNotFound:
		return "gcloud_not_found"
	case KindGCloudFailed:
		return "gcloud_failed"
	case KindGCloudParse:
		return "gcloud_parse"
	default:
		return "unknown"
	}
}

// Error is the typed error every exported operation returns on failure. It
// is never panicked; every Token/ProjectID call either returns a value or an
// *Error.
type Error struct {
	Kind Kind
	Op   string // the failing operation, e.g. "serviceaccount.Token"
	Err  error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gcpauth: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("gcpauth: %s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// newError constructs an *Error, wrapping err (which may be nil).
func newError(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// NewError is the exported form of newError, for use by providers/* packages
// constructing *Error values of a kind not covered by one of the more
// specific New*Error helpers below.
func NewError(op string, kind Kind, err error) *Error {
	return newError(op, kind, err)
}

// NewSignerFailedError wraps a signing-operation failure from internal/signer.
func NewSignerFailedError(op string, err error) *Error {
	return newError(op, KindSignerFailed, err)
}

// NewSignerInitError wraps a key-parsing failure from internal/signer or
// internal/credfile.
func NewSignerInitError(op string, err error) *Error {
	return newError(op, KindSignerInit, err)
}

// NewNoProjectIDError reports that the credential source does not expose a
// project id.
func NewNoProjectIDError(op string) *Error {
	return newError(op, KindNoProjectID, fmt.Errorf("project id not found"))
}

// NewCredentialsPathInvalidError wraps a failure to open/read a credentials
// file.
func NewCredentialsPathInvalidError(op string, err error) *Error {
	return newError(op, KindCredentialsPathInvalid, err)
}

// NewCredentialsFormatInvalidError wraps a JSON-parse or schema-mismatch
// failure on a credentials file.
func NewCredentialsFormatInvalidError(op string, err error) *Error {
	return newError(op, KindCredentialsFormatInvalid, err)
}

// NewNestedImpersonationError reports a load-time refusal of a credential
// config whose impersonation source is itself impersonated.
func NewNestedImpersonationError(op string, err error) *Error {
	return newError(op, KindNestedImpersonation, err)
}

// NewGCloudNotFoundError reports that the gcloud executable could not be
// located on PATH.
func NewGCloudNotFoundError(op string, err error) *Error {
	return newError(op, KindGCloudNotFound, err)
}

// NewGCloudFailedError reports a non-zero gcloud subprocess exit.
func NewGCloudFailedError(op string, err error) *Error {
	return newError(op, KindGCloudFailed, err)
}

// NewGCloudParseError reports non-UTF-8 or otherwise unparseable gcloud
// stdout.
func NewGCloudParseError(op string, err error) *Error {
	return newError(op, KindGCloudParse, err)
}

// ClassifyTransportErr is the exported form of classifyTransportErr, used by
// provider packages outside this package to turn an internal/transport error
// into the right *Error kind.
func ClassifyTransportErr(op string, err error) *Error {
	return classifyTransportErr(op, err)
}

// IsKind reports whether err (or any error it wraps) is a *Error of the
// given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// classifyTransportErr wraps an error returned by internal/transport into
// the taxonomy's KindAuthEndpointFailed or KindTransport, preserving an
// *AuthEndpointError if present.
func classifyTransportErr(op string, err error) *Error {
	if err == nil {
		return nil
	}
	var tErr *transport.AuthEndpointError
	if errors.As(err, &tErr) {
		return newError(op, KindAuthEndpointFailed, &AuthEndpointError{Status: tErr.Status, Body: tErr.Body})
	}
	return newError(op, KindTransport, err)
}

// AuthEndpointError carries the HTTP status and body of a non-2xx response
// from an OAuth2/STS/impersonation endpoint. The body is surfaced here, but
// callers must never log it at info/default level since error responses
// can echo back request parameters.
type AuthEndpointError struct {
	Status int
	Body   string
}

func (e *AuthEndpointError) Error() string {
	return fmt.Sprintf("auth endpoint failed: status=%d body=%s", e.Status, e.Body)
}

// newNoAuthMethod builds the KindNoAuthMethod composite error from the
// ordered sub-errors of the discovery probe (user-default, metadata,
// gcloud). A nil entry means that probe was skipped (e.g. unreachable
// because GOOGLE_APPLICATION_CREDENTIALS pointed at a usable file and the
// function never even got here); callers always pass all three slots.
func newNoAuthMethod(userErr, metadataErr, gcloudErr error) *Error {
	var merr *multierror.Error
	merr = multierror.Append(merr, userErr, metadataErr, gcloudErr)
	merr.ErrorFormat = func(errs []error) string {
		points := make([]string, len(errs))
		for i, err := range errs {
			points[i] = fmt.Sprintf("- %v", err)
		}
		return fmt.Sprintf("no authentication method succeeded (%d probes):\n%s",
			len(errs), joinLines(points))
	}
	return newError("Select", KindNoAuthMethod, merr)
}

// NewNoAuthMethodError is the exported form of newNoAuthMethod, for use by
// the discovery package (which cannot live in this package without creating
// an import cycle with providers/*, which import this package directly).
func NewNoAuthMethodError(userErr, metadataErr, gcloudErr error) *Error {
	return newNoAuthMethod(userErr, metadataErr, gcloudErr)
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}
