package templates

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScaffold(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func testContext() ScaffoldContext {
	return ScaffoldContext{
		WorkspaceName: "dev-1",
		OrgSlug:       "acme",
		ProjectSlug:   "widgets",
		ProjectType:   "python",
		AssetRepoURL:  "git@github.com:acme/widgets.git",
		Features:      []string{"tailscale"},
	}
}

func TestRenderAllSubstitutesContext(t *testing.T) {
	root := t.TempDir()
	writeScaffold(t, root, map[string]string{
		"README.md.tmpl": "# {{.WorkspaceName}}\n\nProject: {{.OrgSlug}}/{{.ProjectSlug}}\n",
	})

	files, err := NewRenderer([]string{root}).RenderAll(testContext())
	require.NoError(t, err)
	require.Contains(t, files, "README.md")
	assert.Equal(t, "# dev-1\n\nProject: acme/widgets\n", files["README.md"])
}

func TestRenderAllStripsTemplateSuffixOnly(t *testing.T) {
	root := t.TempDir()
	writeScaffold(t, root, map[string]string{
		"scripts/post-create.sh.tmpl": "#!/bin/bash\necho {{.WorkspaceName}}\n",
		".gitignore":                  "scratch/\n",
	})

	files, err := NewRenderer([]string{root}).RenderAll(testContext())
	require.NoError(t, err)
	assert.Contains(t, files, "scripts/post-create.sh")
	assert.Contains(t, files, ".gitignore")
	assert.NotContains(t, files, "scripts/post-create.sh.tmpl")
}

func TestRenderAllOverlayOverridesBase(t *testing.T) {
	base := t.TempDir()
	overlay := t.TempDir()
	writeScaffold(t, base, map[string]string{"README.md.tmpl": "base\n"})
	writeScaffold(t, overlay, map[string]string{"README.md.tmpl": "overlay\n"})

	files, err := NewRenderer([]string{base, overlay}).RenderAll(testContext())
	require.NoError(t, err)
	assert.Equal(t, "overlay\n", files["README.md"])
}

func TestRenderAllGhostFileSuppressesBaseOutput(t *testing.T) {
	base := t.TempDir()
	overlay := t.TempDir()
	writeScaffold(t, base, map[string]string{"HOOKS.md.tmpl": "base hooks\n"})
	// Renders to whitespace for python projects, hiding the base file.
	writeScaffold(t, overlay, map[string]string{
		"HOOKS.md.tmpl": "{{if ne .ProjectType \"python\"}}overlay hooks{{end}}\n",
	})

	files, err := NewRenderer([]string{base, overlay}).RenderAll(testContext())
	require.NoError(t, err)
	assert.NotContains(t, files, "HOOKS.md")
}

func TestRenderAllSkipsEmptyRenders(t *testing.T) {
	root := t.TempDir()
	writeScaffold(t, root, map[string]string{
		"OPTIONAL.md.tmpl": "{{if has .Features \"gpu\"}}gpu notes{{end}}",
	})

	files, err := NewRenderer([]string{root}).RenderAll(testContext())
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestRenderAllTemplateFunctions(t *testing.T) {
	root := t.TempDir()
	writeScaffold(t, root, map[string]string{
		"FEATURES.md.tmpl": "{{join (dedupe .Features) \", \"}}\n",
	})

	ctx := testContext()
	ctx.Features = []string{"tailscale", "gpu", "tailscale"}

	files, err := NewRenderer([]string{root}).RenderAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tailscale, gpu\n", files["FEATURES.md"])
}

func TestWriteAllMarksScriptsExecutable(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"scripts/post-create.sh": "#!/bin/bash\n",
		"README.md":              "hi\n",
	}
	require.NoError(t, WriteAll(dir, files))

	info, err := os.Stat(filepath.Join(dir, "scripts", "post-create.sh"))
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0o111)

	info, err = os.Stat(filepath.Join(dir, "README.md"))
	require.NoError(t, err)
	assert.Zero(t, info.Mode()&0o111)
}
