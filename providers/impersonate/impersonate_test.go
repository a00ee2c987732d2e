package impersonate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aerlon/gcpauth"
	"github.com/aerlon/gcpauth/internal/transport"
)

type fakeSource struct {
	token   *gcpauth.Token
	project string
	calls   int
}

func (f *fakeSource) Token(ctx context.Context, scopes ...string) (*gcpauth.Token, error) {
	f.calls++
	return f.token, nil
}

func (f *fakeSource) ProjectID(ctx context.Context) (string, error) {
	return f.project, nil
}

// TestToken_ParsesExpireTime covers concrete scenario F.
func TestToken_ParsesExpireTime(t *testing.T) {
	var gotAuth string
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"accessToken":"imp-1","expireTime":"2099-01-01T00:00:00Z"}`))
	}))
	defer srv.Close()

	source := &fakeSource{token: gcpauth.NewToken("source-tok", time.Hour), project: "source-project"}
	p := New(source, srv.URL, nil, transport.New(nil), nil)

	tok, err := p.Token(context.Background(), "scope1")
	require.NoError(t, err)
	assert.Equal(t, "imp-1", tok.AccessToken())

	expected, _ := time.Parse(time.RFC3339, "2099-01-01T00:00:00Z")
	assert.True(t, tok.ExpiresAt().Equal(expected))
	assert.Equal(t, "Bearer source-tok", gotAuth)
	assert.Equal(t, []interface{}{"scope1"}, gotBody["scope"])
}

func TestToken_WithDelegates(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"accessToken":"imp-1","expireTime":"2099-01-01T00:00:00Z"}`))
	}))
	defer srv.Close()

	source := &fakeSource{token: gcpauth.NewToken("source-tok", time.Hour)}
	p := New(source, srv.URL, []string{"delegate-a@example.com"}, transport.New(nil), nil)

	_, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"delegate-a@example.com"}, gotBody["delegates"])
}

func TestProjectID_DelegatesToSource(t *testing.T) {
	source := &fakeSource{project: "source-project"}
	p := New(source, "https://unused", nil, transport.New(nil), nil)

	id, err := p.ProjectID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "source-project", id)
}

func TestToken_MissingAccessTokenIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"expireTime":"2099-01-01T00:00:00Z"}`))
	}))
	defer srv.Close()

	source := &fakeSource{token: gcpauth.NewToken("source-tok", time.Hour)}
	p := New(source, srv.URL, nil, transport.New(nil), nil)

	_, err := p.Token(context.Background())
	assert.Error(t, err)
}

func TestStaticExchanger_Exchange(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"accessToken":"chained-tok","expireTime":"2099-01-01T00:00:00Z"}`))
	}))
	defer srv.Close()

	ex := &StaticExchanger{TargetURL: srv.URL, Client: transport.New(nil)}
	federated := gcpauth.NewToken("federated-tok", time.Hour)

	tok, err := ex.Exchange(context.Background(), federated, []string{"scope1"})
	require.NoError(t, err)
	assert.Equal(t, "chained-tok", tok.AccessToken())
	assert.Equal(t, "Bearer federated-tok", gotAuth)
}
