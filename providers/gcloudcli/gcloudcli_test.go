package gcloudcli

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aerlon/gcpauth"
)

// stubExec replaces lookPath/execCommand for the duration of the test.
// script receives the gcloud subcommand args and returns shell code to run
// in their place, so no real gcloud binary is required.
func stubExec(t *testing.T, script func(args []string) string) {
	t.Helper()
	origLook, origExec := lookPath, execCommand
	lookPath = func(string) (string, error) { return "/fake/gcloud", nil }
	execCommand = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		return exec.CommandContext(ctx, "/bin/sh", "-c", script(args))
	}
	t.Cleanup(func() { lookPath, execCommand = origLook, origExec })
}

func TestNew_NotFoundOnPath(t *testing.T) {
	orig := lookPath
	lookPath = func(string) (string, error) { return "", exec.ErrNotFound }
	defer func() { lookPath = orig }()

	_, err := New(context.Background(), "linux", nil)
	require.Error(t, err)
	assert.True(t, gcpauth.IsKind(err, gcpauth.KindGCloudNotFound))
}

func isProjectGet(args []string) bool {
	return len(args) >= 2 && args[0] == "config" && args[1] == "get-value"
}

// TestToken_TrimsOutput covers concrete scenario E.
func TestToken_TrimsOutput(t *testing.T) {
	stubExec(t, func(args []string) string {
		if isProjectGet(args) {
			return "echo my-project"
		}
		return `printf 'token-xyz\n'`
	})

	p, err := New(context.Background(), "linux", nil)
	require.NoError(t, err)

	before := time.Now().Add(gcpauth.DefaultTokenDuration)
	tok, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-xyz", tok.AccessToken())
	assert.WithinDuration(t, before, tok.ExpiresAt(), 5*time.Second)
}

func TestToken_NonZeroExit(t *testing.T) {
	stubExec(t, func(args []string) string {
		if isProjectGet(args) {
			return "echo my-project"
		}
		return "exit 1"
	})

	p, err := New(context.Background(), "linux", nil)
	require.NoError(t, err)

	_, err = p.Token(context.Background())
	require.Error(t, err)
	assert.True(t, gcpauth.IsKind(err, gcpauth.KindGCloudFailed))
}

func TestToken_NonUTF8Output(t *testing.T) {
	stubExec(t, func(args []string) string {
		if isProjectGet(args) {
			return "echo my-project"
		}
		return `printf '\377\376'`
	})

	p, err := New(context.Background(), "linux", nil)
	require.NoError(t, err)

	_, err = p.Token(context.Background())
	require.Error(t, err)
	assert.True(t, gcpauth.IsKind(err, gcpauth.KindGCloudParse))
}

func TestProjectID_ResolvedAtConstruction(t *testing.T) {
	stubExec(t, func(args []string) string {
		if isProjectGet(args) {
			return "echo configured-project"
		}
		return `printf 'tok\n'`
	})

	p, err := New(context.Background(), "linux", nil)
	require.NoError(t, err)

	id, err := p.ProjectID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "configured-project", id)
}

func TestProjectID_UnresolvableAtConstructionIsNonFatal(t *testing.T) {
	stubExec(t, func(args []string) string {
		if isProjectGet(args) {
			return "exit 1"
		}
		return `printf 'tok\n'`
	})

	p, err := New(context.Background(), "linux", nil)
	require.NoError(t, err, "a project lookup failure at construction must not fail New")

	_, err = p.ProjectID(context.Background())
	require.Error(t, err)
	assert.True(t, gcpauth.IsKind(err, gcpauth.KindNoProjectID))
}

func TestToken_IgnoresScopesAndCaches(t *testing.T) {
	var calls int
	stubExec(t, func(args []string) string {
		if isProjectGet(args) {
			return "echo p"
		}
		calls++
		return `printf 'tok\n'`
	})

	p, err := New(context.Background(), "linux", nil)
	require.NoError(t, err)

	_, err = p.Token(context.Background(), "scope-a")
	require.NoError(t, err)
	_, err = p.Token(context.Background(), "scope-b")
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestExecutableName(t *testing.T) {
	assert.Equal(t, "gcloud.cmd", executableName("windows"))
	assert.Equal(t, "gcloud", executableName("linux"))
	assert.Equal(t, "gcloud", executableName("darwin"))
}
