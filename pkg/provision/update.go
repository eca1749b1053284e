package provision

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"codespaces/pkg/manifest"
	"codespaces/pkg/templates"
	"codespaces/pkg/utils"
)

// UpdateOptions configures an update/reconciliation run.
type UpdateOptions struct {
	WorkspacePath string
	RepoRoot      string
	ManifestPath  string   // defaults to {repo_root}/codespaces/manifest.yaml
	TemplatesDir  string   // defaults to {repo_root}/templates
	Overlays      []string
	DryRun        bool
}

func (o *UpdateOptions) applyDefaults() {
	if o.TemplatesDir == "" {
		o.TemplatesDir = filepath.Join(o.RepoRoot, "templates")
	}
	if o.ManifestPath == "" {
		o.ManifestPath = filepath.Join(o.RepoRoot, "codespaces", "manifest.yaml")
	}
}

// Change is one pending scaffold difference. Updates only ever add or modify
// files; user content is never deleted.
type Change struct {
	Action  string // ADD or MOD
	Path    string
	Content string
}

// lookupEntry finds the manifest entry for a workspace: first by path, then
// by the environment-name heuristic for workspaces living outside the repo
// root.
func (p *Provisioner) lookupEntry(m *manifest.Manifest, workspacePath, repoRoot string) (*manifest.Entry, error) {
	if entry := m.Find(workspacePath, repoRoot); entry != nil {
		return entry, nil
	}
	entry, err := m.FindByEnvironmentName(filepath.Base(workspacePath))
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, fmt.Errorf("could not find manifest entry for %s", workspacePath)
	}
	return entry, nil
}

// Update re-renders the scaffold for an existing workspace and reconciles any
// drift. It reports whether changes were applied (or would be, in dry-run).
func (p *Provisioner) Update(ctx context.Context, opts UpdateOptions) (bool, error) {
	opts.applyDefaults()

	if _, err := os.Stat(opts.WorkspacePath); err != nil {
		return false, fmt.Errorf("workspace path not found: %s", opts.WorkspacePath)
	}

	m, err := manifest.Load(opts.ManifestPath)
	if err != nil {
		return false, err
	}
	entry, err := p.lookupEntry(m, opts.WorkspacePath, opts.RepoRoot)
	if err != nil {
		return false, err
	}

	roots, err := p.scaffoldRoots(opts.TemplatesDir, opts.Overlays)
	if err != nil {
		return false, err
	}

	rendered, err := templates.NewRenderer(roots).RenderAll(templates.ScaffoldContext{
		WorkspaceName: entry.Environment.Name,
		OrgSlug:       entry.OrgSlug,
		ProjectSlug:   entry.ProjectSlug,
		ProjectType:   entry.Environment.ProjectType,
		AssetRepoURL:  entry.Environment.AssetRepoURL,
		Config:        entry.Project.Config,
		Features:      entry.Project.Features,
	})
	if err != nil {
		return false, err
	}

	p.logger.Info("Checking for drift in %s...", opts.WorkspacePath)
	changes := diffScaffold(opts.WorkspacePath, rendered)

	if len(changes) == 0 {
		p.logger.Info("No changes detected. Workspace is up to date.")
		return false, nil
	}

	p.logger.Info("Found %d changes:", len(changes))
	for _, change := range changes {
		p.logger.Info("  %s %s", change.Action, change.Path)
	}

	if opts.DryRun {
		p.logger.Info("Dry run complete. Pass --force to apply changes.")
		return true, nil
	}

	p.logger.Info("Applying changes...")
	for _, change := range changes {
		target := filepath.Join(opts.WorkspacePath, filepath.FromSlash(change.Path))
		if err := utils.WriteFileWithDirs(target, []byte(change.Content), 0o644); err != nil {
			return false, err
		}
		if utils.IsShellScript(target) {
			if err := utils.MarkExecutable(target); err != nil {
				return false, err
			}
		}
		p.logger.Info("  Applied %s %s", change.Action, change.Path)
	}

	p.regenerateSpec(opts.WorkspacePath, entry)
	return true, nil
}

// diffScaffold compares rendered outputs against the workspace tree, in
// stable path order.
func diffScaffold(workspacePath string, rendered map[string]string) []Change {
	paths := make([]string, 0, len(rendered))
	for rel := range rendered {
		paths = append(paths, rel)
	}
	sort.Strings(paths)

	var changes []Change
	for _, rel := range paths {
		newContent := rendered[rel]
		target := filepath.Join(workspacePath, filepath.FromSlash(rel))

		current, err := os.ReadFile(target)
		if err != nil {
			changes = append(changes, Change{Action: "ADD", Path: rel, Content: newContent})
			continue
		}
		if string(current) != newContent {
			changes = append(changes, Change{Action: "MOD", Path: rel, Content: newContent})
		}
	}
	return changes
}

// regenerateSpec rebuilds workspace-spec.yaml from the code-level defaults
// and rewrites it (plus devcontainer.json) only when the serialized form
// drifted. Failures are warnings: scaffold updates already applied stand on
// their own.
func (p *Provisioner) regenerateSpec(workspacePath string, entry *manifest.Entry) {
	ws := BuildSpec(entry.Environment.Name, entry.Environment.ProjectType, entry.OrgSlug, entry.ProjectSlug, p.Now())
	if err := ws.Validate(); err != nil {
		p.logger.Warn("Failed to regenerate spec: %v", err)
		return
	}

	newSpec, err := SpecYAML(ws)
	if err != nil {
		p.logger.Warn("Failed to regenerate spec: %v", err)
		return
	}

	specPath := filepath.Join(workspacePath, ".devcontainer", "workspace-spec.yaml")
	current, readErr := os.ReadFile(specPath)
	if readErr == nil && string(current) == string(newSpec) {
		return
	}

	if err := utils.WriteFileWithDirs(specPath, newSpec, 0o644); err != nil {
		p.logger.Warn("Failed to regenerate spec: %v", err)
		return
	}
	p.logger.Info("  MOD .devcontainer/workspace-spec.yaml")

	devcontainerJSON, err := ws.DevcontainerJSON()
	if err != nil {
		p.logger.Warn("Failed to regenerate devcontainer.json: %v", err)
		return
	}
	if err := utils.WriteFileWithDirs(filepath.Join(workspacePath, ".devcontainer", "devcontainer.json"), devcontainerJSON, 0o644); err != nil {
		p.logger.Warn("Failed to regenerate devcontainer.json: %v", err)
		return
	}
	p.logger.Info("  MOD .devcontainer/devcontainer.json")
}

// UpdateSummary aggregates a batch update run.
type UpdateSummary struct {
	Updated   int
	Unchanged int
	Failed    int
}

// UpdateAll runs Update over every workspace in the manifest, best-effort:
// one workspace failing does not stop the rest.
func (p *Provisioner) UpdateAll(ctx context.Context, opts UpdateOptions) (UpdateSummary, error) {
	opts.applyDefaults()

	var summary UpdateSummary
	m, err := manifest.Load(opts.ManifestPath)
	if err != nil {
		return summary, err
	}

	for _, orgSlug := range m.OrgSlugs() {
		org := m.Orgs[orgSlug]
		for _, projectSlug := range org.ProjectSlugs() {
			for _, env := range org.Projects[projectSlug].Environments {
				wsOpts := opts
				wsOpts.WorkspacePath = env.WorkspacePath
				if !filepath.IsAbs(wsOpts.WorkspacePath) {
					wsOpts.WorkspacePath = filepath.Join(opts.RepoRoot, filepath.FromSlash(env.WorkspacePath))
				}

				changed, err := p.Update(ctx, wsOpts)
				switch {
				case err != nil:
					p.logger.Error("update %s/%s/%s: %v", orgSlug, projectSlug, env.Name, err)
					summary.Failed++
				case changed:
					summary.Updated++
				default:
					summary.Unchanged++
				}
			}
		}
	}
	return summary, nil
}
