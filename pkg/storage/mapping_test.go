package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func mapEnv(env map[string]string) Getenv {
	return func(key string) string { return env[key] }
}

const mappingDoc = `
bucket: fleet-data
filesystem: codespaces
metadata_dsn_env: WORKSPACE_DSN
workspaces:
  acme/shop/dev-1:
    org: acme
    project: shop
    env: dev-1
    mounts:
      - name: cargo-cache
        target: /home/vscode/.cargo
        source: cargo-cache
      - name: pinned
        target: /data/pinned
        source: pinned
        bucket_path: archive/pinned
`

func TestLoadMappingDefaultsAndDerivation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persistence-mappings.yaml")
	writeTestFile(t, path, mappingDoc)

	m, err := LoadMapping(path)
	require.NoError(t, err)

	assert.Equal(t, 1, m.Version)
	assert.Equal(t, "workspaces", m.RootPrefix)
	assert.Equal(t, "project", m.DefaultScope)

	entry := m.Workspaces["acme/shop/dev-1"]
	require.NotNil(t, entry)
	assert.NotEmpty(t, entry.JuiceFSUUID)

	assert.Equal(t, "symlink", entry.Mounts[0].Type)
	assert.Equal(t, "workspaces/acme/shop/dev-1/cargo-cache", entry.Mounts[0].BucketPath)
	assert.Equal(t, "archive/pinned", entry.Mounts[1].BucketPath)
}

func TestLoadMappingRejectsInvalidDocuments(t *testing.T) {
	cases := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{
			name:    "missing bucket",
			doc:     "filesystem: fs\nmetadata_dsn_env: DSN\n",
			wantErr: "requires a bucket",
		},
		{
			name:    "bad scope",
			doc:     "bucket: b\nfilesystem: fs\nmetadata_dsn_env: DSN\ndefault_scope: org\n",
			wantErr: "must be project or environment",
		},
		{
			name: "relative mount target",
			doc: `bucket: b
filesystem: fs
metadata_dsn_env: DSN
workspaces:
  a/b/c:
    org: a
    project: b
    env: c
    mounts:
      - name: x
        target: relative/path
        source: x
`,
			wantErr: "must be an absolute path",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "mapping.yaml")
			writeTestFile(t, path, tc.doc)
			_, err := LoadMapping(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestValidateMountsMatchSpec(t *testing.T) {
	workspace := t.TempDir()
	writeTestFile(t, filepath.Join(workspace, ".devcontainer", "workspace-spec.yaml"), `
name: dev-1
devcontainer:
  image:
    name: ghcr.io/acme/base:1.0
persistence:
  enabled: true
  mode: mounted
  mounts:
    - name: cargo
      target: /home/vscode/.cargo
      source: cargo
    - name: notes
      target: /data/notes
      source: notes
`)

	entry := &WorkspaceStorageEntry{
		Org: "acme", Project: "shop", Env: "dev-1",
		Mounts: []MountMapping{
			{Name: "cargo", Target: "/home/vscode/.cargo", Source: "cargo", Type: "symlink"},
			{Name: "stale", Target: "/data/stale", Source: "stale", Type: "symlink"},
		},
	}

	err := ValidateMountsMatchSpec(workspace, entry)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing in mapping: notes")
	assert.Contains(t, err.Error(), "extra in mapping: stale")

	entry.Mounts = []MountMapping{
		{Name: "cargo", Target: "/home/vscode/.cargo", Source: "cargo", Type: "symlink"},
		{Name: "notes", Target: "/data/notes", Source: "notes", Type: "symlink"},
	}
	assert.NoError(t, ValidateMountsMatchSpec(workspace, entry))
}

func TestFindStorageConfigPrefersNexus(t *testing.T) {
	root := t.TempDir()
	assert.Empty(t, FindStorageConfig(root))

	writeTestFile(t, filepath.Join(root, "storage-config.yaml"), "global: []\n")
	assert.Equal(t, filepath.Join(root, "storage-config.yaml"), FindStorageConfig(root))

	writeTestFile(t, filepath.Join(root, "nexus", "storage-config.yaml"), "global: []\n")
	assert.Equal(t, filepath.Join(root, "nexus", "storage-config.yaml"), FindStorageConfig(root))
}

func TestResolveStorageEnvFallbacks(t *testing.T) {
	m := &StorageMapping{
		Bucket:         "fleet-data",
		Filesystem:     "codespaces",
		MetadataDSNEnv: "WORKSPACE_DSN",
	}

	env, err := ResolveStorageEnv(m, mapEnv(map[string]string{
		"JUICEFS_METADATA_URI":      "postgresql://juicefs@db.internal/meta",
		"CF_S3_ACCESS_KEY_ID":       "cf-key",
		"JUICEFS_SECRET_ACCESS_KEY": "jf-secret",
		"JUICEFS_S3_ENDPOINT":       "https://s3.example",
	}))
	require.NoError(t, err)

	assert.Equal(t, "postgres://juicefs@db.internal/meta", env["JUICEFS_DSN"])
	assert.Equal(t, "cf-key", env["S3_ACCESS_KEY_ID"])
	assert.Equal(t, "jf-secret", env["S3_SECRET_ACCESS_KEY"])
	assert.Equal(t, "https://s3.example", env["JUICEFS_S3_ENDPOINT"])
	assert.Equal(t, "fleet-data", env["JUICEFS_BUCKET"])
}

func TestResolveStorageEnvPrefersNamedDSNVar(t *testing.T) {
	m := &StorageMapping{Bucket: "b", Filesystem: "fs", MetadataDSNEnv: "WORKSPACE_DSN", S3EndpointEnv: "MY_ENDPOINT"}

	env, err := ResolveStorageEnv(m, mapEnv(map[string]string{
		"WORKSPACE_DSN":        "postgres://primary/meta",
		"JUICEFS_METADATA_URI": "postgres://fallback/meta",
		"S3_ACCESS_KEY_ID":     "key",
		"S3_SECRET_ACCESS_KEY": "secret",
		"MY_ENDPOINT":          "https://primary.example",
		"JUICEFS_S3_ENDPOINT":  "https://fallback.example",
	}))
	require.NoError(t, err)
	assert.Equal(t, "postgres://primary/meta", env["JUICEFS_DSN"])
	assert.Equal(t, "https://primary.example", env["JUICEFS_S3_ENDPOINT"])
}

func TestResolveStorageEnvReportsAllMissing(t *testing.T) {
	m := &StorageMapping{Bucket: "b", Filesystem: "fs", MetadataDSNEnv: "WORKSPACE_DSN"}

	_, err := ResolveStorageEnv(m, mapEnv(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required env vars:")
	assert.Contains(t, err.Error(), "JUICEFS_DSN")
	assert.Contains(t, err.Error(), "S3_ACCESS_KEY_ID")
	assert.Contains(t, err.Error(), "S3_SECRET_ACCESS_KEY")
	assert.Contains(t, err.Error(), "JUICEFS_S3_ENDPOINT")
}
