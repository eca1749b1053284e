package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleManifest() *Manifest {
	m := New()
	org := m.EnsureOrg("acme", "acme")
	project := org.EnsureProject("widgets")
	project.Environments = append(project.Environments, &EnvironmentEntry{
		Name:          "dev-1",
		WorkspacePath: "codespaces/acme/dev-1",
		AssetRepoURL:  "git@github.com:acme/widgets.git",
		AssetBranch:   "main",
		ProjectType:   "python",
		CreatedAt:     "2026-08-29T00:00:00Z",
	})
	return m
}

func TestLoadMissingFileReturnsEmptyManifest(t *testing.T) {
	m, err := Load(filepath.Join(t.TempDir(), "manifest.yaml"))
	require.NoError(t, err)
	assert.Equal(t, CurrentVersion, m.Version)
	assert.Empty(t, m.Orgs)
}

func TestLoadRejectsUnknownVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 2\nmanifest: {}\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported manifest version (2)")
}

func TestLoadDefaultsMissingVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.yaml")
	require.NoError(t, os.WriteFile(path, []byte("manifest: {}\n"), 0o644))

	m, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, CurrentVersion, m.Version)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "codespaces", "manifest.yaml")
	require.NoError(t, Save(path, sampleManifest()))

	m, err := Load(path)
	require.NoError(t, err)

	org := m.Orgs["acme"]
	require.NotNil(t, org)
	assert.Equal(t, "acme", org.ProjectDir)

	project := org.Projects["widgets"]
	require.NotNil(t, project)
	env := project.Environment("dev-1")
	require.NotNil(t, env)
	assert.Equal(t, "git@github.com:acme/widgets.git", env.AssetRepoURL)
	assert.Equal(t, "python", env.ProjectType)
}

func TestSavePreservesInsertionOrder(t *testing.T) {
	m := New()
	m.EnsureOrg("zebra", "zebra").EnsureProject("stripes")
	org := m.EnsureOrg("acme", "acme")
	org.EnsureProject("widgets")
	org.EnsureProject("anvils")

	path := filepath.Join(t.TempDir(), "manifest.yaml")
	require.NoError(t, Save(path, m))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Less(t, strings.Index(text, "zebra"), strings.Index(text, "acme"))
	assert.Less(t, strings.Index(text, "widgets"), strings.Index(text, "anvils"))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"zebra", "acme"}, loaded.OrgSlugs())
	assert.Equal(t, []string{"widgets", "anvils"}, loaded.Orgs["acme"].ProjectSlugs())
}

func TestSaveReplacesFileAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 1\nmanifest: {}\n"), 0o644))

	require.NoError(t, Save(path, sampleManifest()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "manifest.yaml", entries[0].Name())

	m, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, m.Orgs["acme"])
}

func TestFindByExactWorkspacePath(t *testing.T) {
	m := sampleManifest()
	entry := m.Find("/repo/codespaces/acme/dev-1", "/repo")
	require.NotNil(t, entry)
	assert.Equal(t, "acme", entry.OrgSlug)
	assert.Equal(t, "widgets", entry.ProjectSlug)
	assert.Equal(t, "dev-1", entry.Environment.Name)
}

func TestFindByDefaultPathWhenRecordedPathDiffers(t *testing.T) {
	m := sampleManifest()
	// Simulate an entry recorded with a stale absolute path.
	m.Orgs["acme"].Projects["widgets"].Environments[0].WorkspacePath = "/old/location"

	entry := m.Find("/repo/codespaces/acme/dev-1", "/repo")
	require.NotNil(t, entry)
	assert.Equal(t, "dev-1", entry.Environment.Name)
}

func TestFindMissesOutsideRepo(t *testing.T) {
	m := sampleManifest()
	assert.Nil(t, m.Find("/elsewhere/dev-2", "/repo"))
}

func TestFindByEnvironmentName(t *testing.T) {
	m := sampleManifest()

	entry, err := m.FindByEnvironmentName("dev-1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "widgets", entry.ProjectSlug)

	entry, err = m.FindByEnvironmentName("missing")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestFindByEnvironmentNameAmbiguous(t *testing.T) {
	m := sampleManifest()
	other := m.EnsureOrg("globex", "globex").EnsureProject("gadgets")
	other.Environments = append(other.Environments, &EnvironmentEntry{Name: "dev-1"})

	_, err := m.FindByEnvironmentName("dev-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ambiguous")
}
