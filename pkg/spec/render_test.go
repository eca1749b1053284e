package spec

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderOverridesTemplateName(t *testing.T) {
	w := Example()
	payload := w.RenderDevcontainer()
	assert.Equal(t, "formualizer-dev", payload["name"])
}

func TestRenderInjectsWorkspaceIdentity(t *testing.T) {
	w := Example()
	payload := w.RenderDevcontainer()

	env, ok := payload["containerEnv"].(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "formualizer-dev", env["WORKSPACE_NAME"])
	assert.Equal(t, "coltec", env["WORKSPACE_ORG"])
	assert.Equal(t, "formualizer", env["WORKSPACE_PROJECT"])
	assert.Equal(t, "dev", env["WORKSPACE_ENV"])
	assert.Equal(t, "true", env["NETWORKING_ENABLED"])
	assert.Equal(t, "true", env["PERSISTENCE_ENABLED"])
	assert.Equal(t, "mounted", env["PERSISTENCE_MODE"])
	assert.Equal(t, "project", env["PERSISTENCE_SCOPE"])
}

func TestRenderUserEnvWinsOverInjectedEnv(t *testing.T) {
	w := Example()
	w.Devcontainer.Env = map[string]string{
		"WORKSPACE_NAME":     "renamed-by-user",
		"TAILSCALE_AUTH_KEY": "tskey-fixed",
		"EDITOR":             "vim",
		"NETWORKING_ENABLED": "false",
	}
	require.NoError(t, w.Validate())

	env := w.RenderDevcontainer()["containerEnv"].(map[string]string)
	assert.Equal(t, "renamed-by-user", env["WORKSPACE_NAME"])
	assert.Equal(t, "tskey-fixed", env["TAILSCALE_AUTH_KEY"])
	assert.Equal(t, "vim", env["EDITOR"])
	assert.Equal(t, "false", env["NETWORKING_ENABLED"])
	// Non-colliding injected vars remain.
	assert.Equal(t, "coltec", env["WORKSPACE_ORG"])
}

func TestRenderMergesWorkspaceMountsAfterDevcontainerMounts(t *testing.T) {
	w := Example()
	w.Mounts = []MountSpec{{Source: "scratch-vol", Target: "/scratch", Type: "volume"}}
	require.NoError(t, w.Validate())

	payload := w.RenderDevcontainer()
	mounts, ok := payload["mounts"].([]string)
	require.True(t, ok)
	require.Len(t, mounts, 2)
	assert.Equal(t, "source=formualizer-dev-home,target=/home/vscode,type=volume", mounts[0])
	assert.Equal(t, "source=scratch-vol,target=/scratch,type=volume", mounts[1])

	// The spec itself is not mutated by rendering.
	assert.Len(t, w.Devcontainer.Mounts, 1)
}

func TestRenderSecretPlaceholdersNeverLiteralValues(t *testing.T) {
	w := Example()
	payload := w.RenderDevcontainer()
	env := payload["containerEnv"].(map[string]string)

	for _, v := range baseSecretVars {
		assert.Equal(t, "${localEnv:"+v+"}", env[v])
	}
	// RCLONE_BUCKET only applies to replicated persistence.
	_, ok := env["RCLONE_BUCKET"]
	assert.False(t, ok)
}

func TestRenderReplicatedModeEnv(t *testing.T) {
	w := Example()
	w.Persistence = PersistenceSpec{
		Enabled: true,
		Mode:    ModeReplicated,
		Scope:   "project",
		RcloneConfig: &RcloneConfig{
			RemoteName: "r2fleet",
			Type:       "s3",
			Options: map[string]string{
				"access_key_id":     "${R2_ACCESS_KEY_ID}",
				"secret_access_key": "${R2_SECRET_ACCESS_KEY}",
				"region":            "auto",
			},
		},
		Sync: []SyncPath{
			{Name: "notes", Path: "/workspace/notes", RemotePath: "{org}/{project}/{env}/notes", Direction: SyncBidirectional, Interval: 300, Priority: 2},
		},
	}
	require.NoError(t, w.Validate())

	env := w.RenderDevcontainer()["containerEnv"].(map[string]string)
	assert.Equal(t, "r2fleet", env["RCLONE_REMOTE_NAME"])
	assert.Equal(t, "${localEnv:RCLONE_BUCKET}", env["RCLONE_BUCKET"])
	assert.Equal(t, "${localEnv:R2_ACCESS_KEY_ID}", env["R2_ACCESS_KEY_ID"])
	assert.Equal(t, "${localEnv:R2_SECRET_ACCESS_KEY}", env["R2_SECRET_ACCESS_KEY"])
	_, ok := env["auto"]
	assert.False(t, ok)
}

func TestRenderDigestBecomesBuildArg(t *testing.T) {
	w := Example()
	w.Devcontainer.Image.Digest = "sha256:abc123"

	payload := w.RenderDevcontainer()
	build, ok := payload["build"].(map[string]any)
	require.True(t, ok)
	args, ok := build["args"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "sha256:abc123", args["BASE_DIGEST"])
}

func TestRenderElidesEmptySections(t *testing.T) {
	w := &WorkspaceSpec{
		Name:     "bare",
		Metadata: WorkspaceMetadata{Org: "acme", Project: "widgets", Environment: "dev"},
		Devcontainer: DevcontainerSpec{
			Template:        TemplateRef{Name: "other", Path: "t.json"},
			Image:           ImageRef{Name: "ghcr.io/acme/base:1.0"},
			User:            "vscode",
			WorkspaceFolder: "/workspace",
		},
		Networking:  defaultNetworkingSpec(),
		Persistence: PersistenceSpec{Mode: ModeMounted, Scope: "project"},
	}
	require.NoError(t, w.Validate())

	payload := w.RenderDevcontainer()
	for _, key := range []string{"mounts", "runArgs", "features", "postCreateCommand", "postStartCommand", "customizations", "workspaceMount", "build"} {
		_, present := payload[key]
		assert.False(t, present, "unexpected key %s", key)
	}
}

func TestDevcontainerJSONDeterministic(t *testing.T) {
	w := Example()

	first, err := w.DevcontainerJSON()
	require.NoError(t, err)
	second, err := w.DevcontainerJSON()
	require.NoError(t, err)
	assert.Equal(t, first, second)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(first, &decoded))
	assert.Equal(t, "formualizer-dev", decoded["name"])

	// Two-space indent, sorted keys.
	assert.Contains(t, string(first), "\n  \"containerEnv\": {")
}

func TestDevcontainerJSONRoundTripStable(t *testing.T) {
	doc := `
name: round-trip
metadata:
  org: acme
  project: widgets
  environment: staging
devcontainer:
  template: {name: node, path: devcontainer_templates/node.json.tmpl}
  image: {name: ghcr.io/acme/base:1.0}
  run_args: ["--init"]
  lifecycle:
    post_create: ["./a.sh", "./b.sh"]
`
	w, err := Parse([]byte(doc))
	require.NoError(t, err)

	rendered, err := w.DevcontainerJSON()
	require.NoError(t, err)

	again, err := Parse([]byte(doc))
	require.NoError(t, err)
	rerendered, err := again.DevcontainerJSON()
	require.NoError(t, err)

	assert.Equal(t, rendered, rerendered)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(rendered, &decoded))
	assert.Equal(t, "./a.sh && ./b.sh", decoded["postCreateCommand"])
}
