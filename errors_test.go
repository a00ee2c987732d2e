package gcpauth

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aerlon/gcpauth/internal/transport"
)

func TestIsKind(t *testing.T) {
	err := NewNoProjectIDError("usercreds.ProjectID")
	assert.True(t, IsKind(err, KindNoProjectID))
	assert.False(t, IsKind(err, KindTransport))
	assert.False(t, IsKind(errors.New("plain error"), KindNoProjectID))
}

func TestNewNoAuthMethodError_PreservesOrderAndAll(t *testing.T) {
	userErr := errors.New("user-default: no such file")
	metadataErr := errors.New("metadata: 404")
	gcloudErr := errors.New("gcloud: not found on PATH")

	err := NewNoAuthMethodError(userErr, metadataErr, gcloudErr)
	assert.Equal(t, KindNoAuthMethod, err.Kind)

	msg := err.Error()
	// All three sub-errors must be present, in the documented order.
	userIdx := strings.Index(msg, userErr.Error())
	metaIdx := strings.Index(msg, metadataErr.Error())
	gcloudIdx := strings.Index(msg, gcloudErr.Error())
	assert.True(t, userIdx >= 0 && metaIdx > userIdx && gcloudIdx > metaIdx,
		"expected sub-errors in order user, metadata, gcloud; got: %s", msg)
}

func TestClassifyTransportErr_AuthEndpoint(t *testing.T) {
	wrapped := &transport.AuthEndpointError{Status: 403, Body: "forbidden"}
	err := classifyTransportErr("serviceaccount.Token", wrapped)
	assert.Equal(t, KindAuthEndpointFailed, err.Kind)

	var aerr *AuthEndpointError
	assert.True(t, errors.As(err, &aerr))
	assert.Equal(t, 403, aerr.Status)
}

func TestClassifyTransportErr_Transport(t *testing.T) {
	err := classifyTransportErr("serviceaccount.Token", errors.New("connection refused"))
	assert.Equal(t, KindTransport, err.Kind)
}

func TestError_UnwrapAndMessage(t *testing.T) {
	cause := errors.New("bad pem")
	err := NewSignerInitError("signer.New", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "signer_init")
	assert.Contains(t, err.Error(), "bad pem")
}
