// Package templates renders workspace scaffold trees (README, lifecycle
// scripts, hooks) from layered template roots.
package templates

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"codespaces/pkg/utils"
)

// TemplateSuffix marks files that go through template expansion. The suffix
// is stripped from the output path; files without it are rendered too but
// keep their name.
const TemplateSuffix = ".tmpl"

// ScaffoldContext holds the data available to scaffold templates.
type ScaffoldContext struct {
	WorkspaceName string
	OrgSlug       string
	ProjectSlug   string
	ProjectType   string
	AssetRepoURL  string
	Config        map[string]any
	Features      []string
}

// Renderer renders scaffold templates from one or more roots. Roots are
// folded in order: the base scaffold first, then overlays, so a later root
// overrides files from an earlier one.
type Renderer struct {
	roots []string
	funcs template.FuncMap
}

// NewRenderer creates a renderer over the given scaffold roots.
func NewRenderer(roots []string) *Renderer {
	return &Renderer{
		roots: roots,
		funcs: template.FuncMap{
			"contains": strings.Contains,
			"join":     strings.Join,
			"dedupe":   utils.Dedupe,
			"has": func(features []string, name string) bool {
				for _, f := range features {
					if f == name {
						return true
					}
				}
				return false
			},
		},
	}
}

// RenderAll renders every template under every root and returns the output
// files keyed by workspace-relative path.
//
// A file that renders to only whitespace is treated as a ghost file: it is
// omitted from the output, and if an earlier root already produced it, that
// output is removed. Overlays use this to suppress base files entirely.
func (r *Renderer) RenderAll(ctx ScaffoldContext) (map[string]string, error) {
	results := make(map[string]string)

	for _, root := range r.roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}

			rel, err := filepath.Rel(root, path)
			if err != nil {
				return fmt.Errorf("resolving template path %s: %w", path, err)
			}
			rel = filepath.ToSlash(rel)

			rendered, err := r.renderFile(path, ctx)
			if err != nil {
				return err
			}

			output := strings.TrimSuffix(rel, TemplateSuffix)
			if strings.TrimSpace(rendered) == "" {
				delete(results, output)
				return nil
			}
			results[output] = rendered
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

func (r *Renderer) renderFile(path string, ctx ScaffoldContext) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read template %s: %w", path, err)
	}

	tmpl, err := template.New(filepath.Base(path)).Funcs(r.funcs).Parse(string(content))
	if err != nil {
		return "", fmt.Errorf("failed to parse template %s: %w", path, err)
	}

	var buf strings.Builder
	if err := tmpl.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", path, err)
	}
	return buf.String(), nil
}

// WriteAll writes rendered files under workspacePath, creating directories as
// needed and marking shell scripts executable.
func WriteAll(workspacePath string, files map[string]string) error {
	for rel, content := range files {
		target := filepath.Join(workspacePath, filepath.FromSlash(rel))
		if err := utils.WriteFileWithDirs(target, []byte(content), 0o644); err != nil {
			return err
		}
		if utils.IsShellScript(target) {
			if err := utils.MarkExecutable(target); err != nil {
				return err
			}
		}
	}
	return nil
}
