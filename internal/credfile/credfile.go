// Package credfile parses and tag-dispatches the three (four, counting
// impersonation) JSON credential shapes GCP client libraries recognize, and
// implements the well-known lookup paths (GOOGLE_APPLICATION_CREDENTIALS,
// the per-OS user-default ADC file). It generalizes the
// google.CredentialsFromJSON call the teacher delegates to in
// internal/cloud/gcp.go into the library's own parser, since spec.md makes
// parsing + dispatch + signer construction part of this library's surface
// rather than an external collaborator's.
package credfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/aerlon/gcpauth/internal/signer"
)

// Type discriminates the four JSON credential shapes.
type Type string

const (
	TypeServiceAccount            Type = "service_account"
	TypeAuthorizedUser             Type = "authorized_user"
	TypeExternalAccount            Type = "external_account"
	TypeImpersonatedServiceAccount Type = "impersonated_service_account"
)

// ServiceAccountKey is the parsed, immutable service-account JSON key. Signer
// is built eagerly at load time so bad key material is surfaced early.
type ServiceAccountKey struct {
	ClientEmail string
	TokenURI    string
	ProjectID   string
	PrivateKey  string // retained only for introspection
	Signer      *signer.Signer
}

// UserRefreshToken is the parsed authorized_user credential.
type UserRefreshToken struct {
	ClientID        string
	ClientSecret    string
	RefreshToken    string
	QuotaProjectID  string
}

// CredentialSourceFormat describes how to extract the subject token from a
// file/url-sourced credential_source body.
type CredentialSourceFormat struct {
	Type                  string // "json" or "" (text)
	SubjectTokenFieldName string
}

// CredentialSource is the external_account credential_source variant: file-
// or URL-sourced, optionally with extra request headers and a format spec.
type CredentialSource struct {
	File    string
	URL     string
	Headers map[string]string
	Format  CredentialSourceFormat
}

// ExternalAccountConfig is the parsed external_account credential.
type ExternalAccountConfig struct {
	Audience                       string
	SubjectTokenType               string
	TokenURL                       string
	CredentialSource               CredentialSource
	ServiceAccountImpersonationURL string
	QuotaProjectID                 string
}

// ImpersonationConfig is the parsed impersonated_service_account credential.
// Source is the already-dispatched inner credential (never itself an
// impersonation — nested impersonation is rejected by Load).
type ImpersonationConfig struct {
	TargetURL string
	Source    interface{} // *ServiceAccountKey, *UserRefreshToken, or *ExternalAccountConfig
	Delegates []string
}

// ErrNestedImpersonation is returned when an impersonated_service_account's
// source_credentials is itself impersonated.
var ErrNestedImpersonation = fmt.Errorf("credfile: nested impersonation not supported")

// ErrUnknownType is returned for a "type" field this library doesn't
// recognize. Unknown types must never be silently ignored.
var ErrUnknownType = fmt.Errorf("credfile: unknown credentials type")

type typeTag struct {
	Type string `json:"type"`
}

// Parse dispatches raw JSON bytes on their "type" field and returns one of
// *ServiceAccountKey, *UserRefreshToken, *ExternalAccountConfig, or
// *ImpersonationConfig.
func Parse(raw []byte) (interface{}, error) {
	var tag typeTag
	if err := json.Unmarshal(raw, &tag); err != nil {
		return nil, fmt.Errorf("credfile: invalid JSON: %w", err)
	}

	switch Type(tag.Type) {
	case TypeServiceAccount:
		return parseServiceAccount(raw)
	case TypeAuthorizedUser:
		return parseUserRefreshToken(raw)
	case TypeExternalAccount:
		return parseExternalAccount(raw)
	case TypeImpersonatedServiceAccount:
		return parseImpersonation(raw)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, tag.Type)
	}
}

func parseServiceAccount(raw []byte) (*ServiceAccountKey, error) {
	var doc struct {
		ClientEmail string `json:"client_email"`
		TokenURI    string `json:"token_uri"`
		ProjectID   string `json:"project_id"`
		PrivateKey  string `json:"private_key"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("credfile: invalid service_account JSON: %w", err)
	}
	if doc.ClientEmail == "" || doc.TokenURI == "" || doc.PrivateKey == "" {
		return nil, fmt.Errorf("credfile: service_account JSON missing required fields")
	}

	s, err := signer.New(doc.PrivateKey)
	if err != nil {
		return nil, err
	}

	return &ServiceAccountKey{
		ClientEmail: doc.ClientEmail,
		TokenURI:    doc.TokenURI,
		ProjectID:   doc.ProjectID,
		PrivateKey:  doc.PrivateKey,
		Signer:      s,
	}, nil
}

func parseUserRefreshToken(raw []byte) (*UserRefreshToken, error) {
	var doc struct {
		ClientID       string `json:"client_id"`
		ClientSecret   string `json:"client_secret"`
		RefreshToken   string `json:"refresh_token"`
		QuotaProjectID string `json:"quota_project_id"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("credfile: invalid authorized_user JSON: %w", err)
	}
	if doc.ClientID == "" || doc.ClientSecret == "" || doc.RefreshToken == "" {
		return nil, fmt.Errorf("credfile: authorized_user JSON missing required fields")
	}
	return &UserRefreshToken{
		ClientID:       doc.ClientID,
		ClientSecret:   doc.ClientSecret,
		RefreshToken:   doc.RefreshToken,
		QuotaProjectID: doc.QuotaProjectID,
	}, nil
}

func parseExternalAccount(raw []byte) (*ExternalAccountConfig, error) {
	var doc struct {
		Audience          string `json:"audience"`
		SubjectTokenType  string `json:"subject_token_type"`
		TokenURL          string `json:"token_url"`
		CredentialSource  struct {
			File    string            `json:"file"`
			URL     string            `json:"url"`
			Headers map[string]string `json:"headers"`
			Format  struct {
				Type                  string `json:"type"`
				SubjectTokenFieldName string `json:"subject_token_field_name"`
			} `json:"format"`
		} `json:"credential_source"`
		ServiceAccountImpersonationURL string `json:"service_account_impersonation_url"`
		QuotaProjectID                 string `json:"quota_project_id"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("credfile: invalid external_account JSON: %w", err)
	}
	if doc.Audience == "" || doc.TokenURL == "" {
		return nil, fmt.Errorf("credfile: external_account JSON missing required fields")
	}
	if doc.CredentialSource.File == "" && doc.CredentialSource.URL == "" {
		return nil, fmt.Errorf("credfile: external_account credential_source must have 'file' or 'url'")
	}

	return &ExternalAccountConfig{
		Audience:         doc.Audience,
		SubjectTokenType: doc.SubjectTokenType,
		TokenURL:         doc.TokenURL,
		CredentialSource: CredentialSource{
			File:    doc.CredentialSource.File,
			URL:     doc.CredentialSource.URL,
			Headers: doc.CredentialSource.Headers,
			Format: CredentialSourceFormat{
				Type:                  doc.CredentialSource.Format.Type,
				SubjectTokenFieldName: doc.CredentialSource.Format.SubjectTokenFieldName,
			},
		},
		ServiceAccountImpersonationURL: doc.ServiceAccountImpersonationURL,
		QuotaProjectID:                 doc.QuotaProjectID,
	}, nil
}

func parseImpersonation(raw []byte) (*ImpersonationConfig, error) {
	var doc struct {
		ServiceAccountImpersonationURL string          `json:"service_account_impersonation_url"`
		SourceCredentials              json.RawMessage `json:"source_credentials"`
		Delegates                      []string        `json:"delegates"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("credfile: invalid impersonated_service_account JSON: %w", err)
	}
	if doc.ServiceAccountImpersonationURL == "" || len(doc.SourceCredentials) == 0 {
		return nil, fmt.Errorf("credfile: impersonated_service_account JSON missing required fields")
	}

	var tag typeTag
	if err := json.Unmarshal(doc.SourceCredentials, &tag); err != nil {
		return nil, fmt.Errorf("credfile: invalid source_credentials JSON: %w", err)
	}
	if Type(tag.Type) == TypeImpersonatedServiceAccount {
		return nil, ErrNestedImpersonation
	}

	source, err := Parse(doc.SourceCredentials)
	if err != nil {
		return nil, err
	}

	return &ImpersonationConfig{
		TargetURL: doc.ServiceAccountImpersonationURL,
		Source:    source,
		Delegates: doc.Delegates,
	}, nil
}

// LoadFromPath reads and parses the credentials file at path.
func LoadFromPath(path string) (interface{}, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("credfile: failed to read %s: %w", path, err)
	}
	return Parse(raw)
}

// EnvCredentialsPath returns the value of GOOGLE_APPLICATION_CREDENTIALS, if
// set.
func EnvCredentialsPath() (string, bool) {
	v, ok := os.LookupEnv("GOOGLE_APPLICATION_CREDENTIALS")
	return v, ok && v != ""
}

// UserDefaultCredentialsPath returns the well-known per-OS path to the ADC
// file written by `gcloud auth application-default login`. The Windows vs
// POSIX divergence (%APPDATA%/gcloud/... vs $HOME/.config/gcloud/...) is
// preserved exactly to stay compatible with gcloud's own file placement.
func UserDefaultCredentialsPath() (string, bool) {
	return UserDefaultCredentialsPathForGOOS(runtime.GOOS)
}

// UserDefaultCredentialsPathForGOOS is UserDefaultCredentialsPath
// parameterized on GOOS, so both branches of the divergence are testable on
// a single platform.
func UserDefaultCredentialsPathForGOOS(goos string) (string, bool) {
	if goos == "windows" {
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", false
		}
		return filepath.Join(appData, "gcloud", "application_default_credentials.json"), true
	}

	home := os.Getenv("HOME")
	if home == "" {
		return "", false
	}
	return filepath.Join(home, ".config", "gcloud", "application_default_credentials.json"), true
}

// LoadUserDefaultCredentials loads the well-known ADC file if it exists.
func LoadUserDefaultCredentials() (interface{}, error) {
	path, ok := UserDefaultCredentialsPath()
	if !ok {
		return nil, fmt.Errorf("credfile: could not determine user-default credentials path")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("credfile: user-default credentials not found at %s: %w", path, err)
	}
	return LoadFromPath(path)
}
