package provision

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codespaces/pkg/manifest"
	"codespaces/pkg/testkit"
)

var testClock = func() time.Time {
	return time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
}

func newTestRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	scaffold := filepath.Join(root, "templates", "workspace_scaffold")

	files := map[string]string{
		"README.md.tmpl": "# {{.WorkspaceName}}\n\nAsset repo: {{.AssetRepoURL}}\n",
		".devcontainer/scripts/post-create.sh.tmpl": "#!/bin/bash\necho \"setting up {{.ProjectSlug}}\"\n",
		".devcontainer/scripts/post-start.sh.tmpl":  "#!/bin/bash\necho \"starting {{.WorkspaceName}}\"\n",
		".gitignore": "scratch/\n",
	}
	for rel, content := range files {
		path := filepath.Join(scaffold, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func newTestProvisioner(stub *testkit.RecordingExec) *Provisioner {
	p := New(stub)
	p.Now = testClock
	return p
}

func defaultOpts(root string) Options {
	return Options{
		RepoRoot:        root,
		AssetInput:      "git@github.com:acme/widgets.git",
		OrgSlug:         "acme",
		ProjectSlug:     "widgets",
		EnvironmentName: "dev-1",
		ProjectType:     "python",
	}
}

func TestProvisionCreatesWorkspace(t *testing.T) {
	root := newTestRepo(t)
	stub := testkit.NewRecordingExec()
	p := newTestProvisioner(stub)

	path, err := p.Provision(context.Background(), defaultOpts(root))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "codespaces", "acme", "dev-1"), path)

	// Rendered devcontainer.json carries identity and defaults.
	data, err := os.ReadFile(filepath.Join(path, ".devcontainer", "devcontainer.json"))
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(data, &payload))
	assert.Equal(t, "dev-1", payload["name"])
	assert.Equal(t, "vscode", payload["remoteUser"])

	env, ok := payload["containerEnv"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "acme", env["WORKSPACE_ORG"])
	assert.Equal(t, "widgets", env["WORKSPACE_PROJECT"])
	assert.Equal(t, "dev-1", env["WORKSPACE_ENV"])

	// Spec file round-trips with the pinned timestamp.
	specData, err := os.ReadFile(filepath.Join(path, ".devcontainer", "workspace-spec.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(specData), "2026-08-29T12:00:00Z")
	assert.Contains(t, string(specData), "generated_at:")

	// Scaffold rendered with context substitution.
	readme, err := os.ReadFile(filepath.Join(path, "README.md"))
	require.NoError(t, err)
	assert.Contains(t, string(readme), "# dev-1")
	assert.Contains(t, string(readme), "git@github.com:acme/widgets.git")

	// Lifecycle scripts are executable.
	info, err := os.Stat(filepath.Join(path, ".devcontainer", "scripts", "post-create.sh"))
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0o111)

	// Agent dirs exist with .gitkeep.
	for _, subdir := range []string{"agent-context", "scratch"} {
		_, err := os.Stat(filepath.Join(path, subdir, ".gitkeep"))
		assert.NoError(t, err)
	}

	// agent-project.yaml policy document.
	agent, err := os.ReadFile(filepath.Join(path, "agent-project.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(agent), "project_id: acme-widgets-dev-1")
	assert.Contains(t, string(agent), "path: codebase")

	// Git sequence: init, submodule add, branch pinning, add, commit.
	lines := stub.CommandLines()
	assert.Contains(t, lines, "git init")
	assert.Contains(t, lines, "git -c protocol.file.allow=always submodule add -b main git@github.com:acme/widgets.git codebase")
	assert.Contains(t, lines, "git config -f .gitmodules submodule.codebase.branch main")
	assert.Contains(t, lines, "git add .")
	assert.Contains(t, lines, "git commit -m Init workspace dev-1")

	// Manifest entry appended as the final step.
	m, err := manifest.Load(filepath.Join(root, "codespaces", "manifest.yaml"))
	require.NoError(t, err)
	entry := m.Find(path, root)
	require.NotNil(t, entry)
	assert.Equal(t, "acme", entry.OrgSlug)
	assert.Equal(t, "widgets", entry.ProjectSlug)
	assert.Equal(t, "codespaces/acme/dev-1", entry.Environment.WorkspacePath)
	assert.Equal(t, "python", entry.Environment.ProjectType)
	assert.Equal(t, "2026-08-29T12:00:00Z", entry.Environment.CreatedAt)
}

func TestProvisionRejectsDuplicateEnvironment(t *testing.T) {
	root := newTestRepo(t)
	p := newTestProvisioner(testkit.NewRecordingExec())

	_, err := p.Provision(context.Background(), defaultOpts(root))
	require.NoError(t, err)

	// The first workspace directory must survive the second, failing run.
	_, err = p.Provision(context.Background(), defaultOpts(root))
	require.ErrorIs(t, err, ErrEnvironmentExists)
	_, statErr := os.Stat(filepath.Join(root, "codespaces", "acme", "dev-1", "README.md"))
	assert.NoError(t, statErr)
}

func TestProvisionRejectsExistingPath(t *testing.T) {
	root := newTestRepo(t)
	p := newTestProvisioner(testkit.NewRecordingExec())

	wsPath := filepath.Join(root, "codespaces", "acme", "dev-1")
	require.NoError(t, os.MkdirAll(wsPath, 0o755))

	_, err := p.Provision(context.Background(), defaultOpts(root))
	require.ErrorIs(t, err, ErrWorkspaceExists)

	// Pre-existing directories are never rolled back.
	_, statErr := os.Stat(wsPath)
	assert.NoError(t, statErr)
}

func TestProvisionRollsBackOnCommitFailure(t *testing.T) {
	root := newTestRepo(t)
	stub := testkit.NewRecordingExec()
	stub.Script([]string{"git", "commit"}, testkit.Response{ExitCode: 128, Stderr: "fatal: unable to commit"})
	p := newTestProvisioner(stub)

	_, err := p.Provision(context.Background(), defaultOpts(root))
	require.Error(t, err)

	// The partially built workspace is removed and the manifest untouched.
	_, statErr := os.Stat(filepath.Join(root, "codespaces", "acme", "dev-1"))
	assert.True(t, os.IsNotExist(statErr))

	m, err := manifest.Load(filepath.Join(root, "codespaces", "manifest.yaml"))
	require.NoError(t, err)
	assert.Empty(t, m.Orgs)
}

func TestProvisionRemoteFailureIsWarningOnly(t *testing.T) {
	root := newTestRepo(t)
	stub := testkit.NewRecordingExec()
	stub.Script([]string{"gh", "repo", "create"}, testkit.Response{ExitCode: 1, Stderr: "HTTP 401"})
	p := newTestProvisioner(stub)

	opts := defaultOpts(root)
	opts.CreateRemote = true
	opts.GHOrg = "acme"

	path, err := p.Provision(context.Background(), opts)
	require.NoError(t, err)
	assert.DirExists(t, path)

	calls := stub.CallsMatching("gh", "repo", "create")
	require.Len(t, calls, 1)
	assert.Equal(t, "acme/dev-1", calls[0].Cmd[3])
}

func TestProvisionMissingBaseScaffoldFails(t *testing.T) {
	root := t.TempDir() // no templates dir
	p := newTestProvisioner(testkit.NewRecordingExec())

	_, err := p.Provision(context.Background(), defaultOpts(root))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base template directory not found")
}

func TestProvisionOverlayOverridesScaffold(t *testing.T) {
	root := newTestRepo(t)
	overlay := filepath.Join(root, "templates", "overlays", "gpu")
	require.NoError(t, os.MkdirAll(filepath.Join(overlay, "workspace_scaffold"), 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(overlay, "workspace_scaffold", "README.md.tmpl"),
		[]byte("# {{.WorkspaceName}} (gpu)\n"), 0o644))

	p := newTestProvisioner(testkit.NewRecordingExec())
	opts := defaultOpts(root)
	opts.Overlays = []string{overlay}

	path, err := p.Provision(context.Background(), opts)
	require.NoError(t, err)

	readme, err := os.ReadFile(filepath.Join(path, "README.md"))
	require.NoError(t, err)
	assert.Equal(t, "# dev-1 (gpu)\n", string(readme))
}

func TestBuildSpecDefaults(t *testing.T) {
	ws := BuildSpec("dev-1", "python", "acme", "widgets", testClock())
	require.NoError(t, ws.Validate())

	assert.Equal(t, "dev-1", ws.Name)
	assert.Equal(t, "dev-1", ws.Metadata.Environment)
	assert.Equal(t, []string{"python", "acme", "widgets"}, ws.Metadata.Tags)
	assert.Equal(t, "devcontainer_templates/python.json.tmpl", ws.Devcontainer.Template.Path)
	assert.Equal(t, DefaultImage, ws.Devcontainer.Image.Name)
	assert.Equal(t, "2026-08-29T12:00:00Z", ws.GeneratedAt)

	// Volume mounts for home and tool cache.
	require.Len(t, ws.Devcontainer.Mounts, 2)
	assert.Equal(t, "dev-1-home", ws.Devcontainer.Mounts[0].Source)
	assert.Equal(t, "dev-1-tool-cache", ws.Devcontainer.Mounts[1].Source)

	// Project extensions appended to the base set, deduplicated.
	ext := ws.Devcontainer.Customizations.Extensions.Recommended
	assert.Contains(t, ext, "ms-python.python")
	assert.Contains(t, ext, "ms-azuretools.vscode-docker")
	assert.Equal(t, ext, func() []string {
		seen := map[string]bool{}
		for _, e := range ext {
			if seen[e] {
				t.Fatalf("duplicate extension %s", e)
			}
			seen[e] = true
		}
		return ext
	}())
}

func TestBuildSpecUnknownTypeFallsBackToOther(t *testing.T) {
	ws := BuildSpec("dev-1", "haskell", "acme", "widgets", testClock())
	assert.Equal(t, "devcontainer_templates/other.json.tmpl", ws.Devcontainer.Template.Path)
}

func TestSpecYAMLDeterministic(t *testing.T) {
	a, err := SpecYAML(BuildSpec("dev-1", "rust", "acme", "widgets", testClock()))
	require.NoError(t, err)
	b, err := SpecYAML(BuildSpec("dev-1", "rust", "acme", "widgets", testClock()))
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(string(a), "name: dev-1\n"))
}
