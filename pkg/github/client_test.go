package github

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codespaces/pkg/testkit"
)

func TestRepoName(t *testing.T) {
	cases := []struct {
		name    string
		envName string
		ghOrg   string
		ghName  string
		want    string
	}{
		{"qualified name wins", "dev-1", "acme", "acme/custom", "acme/custom"},
		{"org prepended", "dev-1", "acme", "custom", "acme/custom"},
		{"env name with org", "dev-1", "acme", "", "acme/dev-1"},
		{"bare env name", "dev-1", "", "", "dev-1"},
		{"bare explicit name", "dev-1", "", "custom", "custom"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, RepoName(tc.envName, tc.ghOrg, tc.ghName))
		})
	}
}

func TestCreateRepo(t *testing.T) {
	stub := testkit.NewRecordingExec()
	client := NewClient(stub)

	require.NoError(t, client.CreateRepo(context.Background(), "/ws", "acme/dev-1"))

	calls := stub.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"gh", "repo", "create", "acme/dev-1", "--private", "--source=.", "--remote=origin", "--push"}, calls[0].Cmd)
	assert.Equal(t, "/ws", calls[0].WorkDir)
}

func TestCreateRepoSurfacesFailure(t *testing.T) {
	stub := testkit.NewRecordingExec()
	stub.Script([]string{"gh", "repo", "create"}, testkit.Response{ExitCode: 1, Stderr: "HTTP 401"})
	client := NewClient(stub)

	err := client.CreateRepo(context.Background(), "/ws", "acme/dev-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 401")
}

func TestAvailable(t *testing.T) {
	stub := testkit.NewRecordingExec()
	client := NewClient(stub)
	assert.True(t, client.Available(context.Background()))

	stub.Script([]string{"gh", "--version"}, testkit.Response{ExitCode: 127})
	assert.False(t, client.Available(context.Background()))
}
