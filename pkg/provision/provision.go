package provision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"codespaces/pkg/exec"
	"codespaces/pkg/git"
	"codespaces/pkg/github"
	"codespaces/pkg/logx"
	"codespaces/pkg/manifest"
	"codespaces/pkg/templates"
	"codespaces/pkg/utils"
)

// Precondition failures callers may want to branch on.
var (
	ErrEnvironmentExists = errors.New("environment already exists in manifest")
	ErrWorkspaceExists   = errors.New("workspace path already exists")
)

// Options configures a provisioning run.
type Options struct {
	RepoRoot        string
	AssetInput      string // git URL or local repo path
	OrgSlug         string
	ProjectSlug     string
	EnvironmentName string
	ProjectType     string
	AssetBranch     string // defaults to main
	CreateRemote    bool
	GHOrg           string
	GHName          string
	TemplatesDir    string   // defaults to {repo_root}/templates
	Overlays        []string // extra template roots layered over the base
	ManifestPath    string   // defaults to {repo_root}/codespaces/manifest.yaml

	// ForceBootstrap turns a local asset dir without .git into a fresh repo
	// without asking. ConfirmBootstrap, when set, is asked instead.
	ForceBootstrap   bool
	ConfirmBootstrap func(path string) bool
}

func (o *Options) applyDefaults() {
	if o.AssetBranch == "" {
		o.AssetBranch = DefaultBranch
	}
	if o.TemplatesDir == "" {
		o.TemplatesDir = filepath.Join(o.RepoRoot, "templates")
	}
	if o.ManifestPath == "" {
		o.ManifestPath = filepath.Join(o.RepoRoot, "codespaces", "manifest.yaml")
	}
	if o.ProjectType == "" {
		o.ProjectType = "other"
	}
}

// Provisioner creates and reconciles workspaces.
type Provisioner struct {
	git    *git.Client
	github *github.Client
	logger *logx.Logger

	// Now feeds generated_at timestamps; tests pin it.
	Now func() time.Time
}

// New creates a provisioner whose external commands run through executor.
func New(executor exec.Executor) *Provisioner {
	return &Provisioner{
		git:    git.NewClient(executor),
		github: github.NewClient(executor),
		logger: logx.NewLogger("provision"),
		Now:    time.Now,
	}
}

// scaffoldRoots resolves the base scaffold plus any overlay scaffolds.
// Missing overlays are skipped with a warning; a missing base is fatal.
func (p *Provisioner) scaffoldRoots(templatesDir string, overlays []string) ([]string, error) {
	base := filepath.Join(templatesDir, "workspace_scaffold")
	if _, err := os.Stat(base); err != nil {
		return nil, fmt.Errorf("base template directory not found: %s", base)
	}
	roots := []string{base}

	for _, overlay := range overlays {
		overlayScaffold := filepath.Join(overlay, "workspace_scaffold")
		if _, err := os.Stat(overlayScaffold); err != nil {
			p.logger.Warn("overlay scaffold not found, skipping: %s", overlayScaffold)
			continue
		}
		roots = append(roots, overlayScaffold)
	}
	return roots, nil
}

// Provision creates a new workspace end to end: directory and git setup,
// generated spec and devcontainer, rendered scaffold, asset submodule,
// initial commit, optional remote, and finally the manifest entry.
//
// The manifest write is the commit point. Any failure before it rolls the
// workspace directory back so a partial workspace never survives; the
// manifest is only touched once everything else succeeded.
func (p *Provisioner) Provision(ctx context.Context, opts Options) (string, error) {
	opts.applyDefaults()

	roots, err := p.scaffoldRoots(opts.TemplatesDir, opts.Overlays)
	if err != nil {
		return "", err
	}

	m, err := manifest.Load(opts.ManifestPath)
	if err != nil {
		return "", err
	}

	org := m.EnsureOrg(opts.OrgSlug, utils.Slugify(opts.OrgSlug))
	project := org.EnsureProject(opts.ProjectSlug)
	if project.Environment(opts.EnvironmentName) != nil {
		return "", fmt.Errorf("environment %q already exists for project %q: %w",
			opts.EnvironmentName, opts.ProjectSlug, ErrEnvironmentExists)
	}

	workspacePath := filepath.Join(opts.RepoRoot, "codespaces", org.ProjectDir, opts.EnvironmentName)
	if _, err := os.Stat(workspacePath); err == nil {
		return "", fmt.Errorf("%s: %w", workspacePath, ErrWorkspaceExists)
	}

	assetRepoURL, err := p.git.ResolveAssetURLWithOptions(ctx, opts.AssetInput, git.ResolveOptions{
		Force:   opts.ForceBootstrap,
		Confirm: opts.ConfirmBootstrap,
	})
	if err != nil {
		return "", err
	}

	p.logger.Info("Configuration:")
	p.logger.Info("  Asset repo:      %s", assetRepoURL)
	p.logger.Info("  Org slug:        %s", opts.OrgSlug)
	p.logger.Info("  Project slug:    %s", opts.ProjectSlug)
	p.logger.Info("  Environment dir: %s", opts.EnvironmentName)
	p.logger.Info("  Project type:    %s", opts.ProjectType)
	p.logger.Info("  Asset branch:    %s", opts.AssetBranch)
	p.logger.Info("  Workspace path:  %s", workspacePath)

	if err := os.MkdirAll(workspacePath, 0o755); err != nil {
		return "", fmt.Errorf("creating workspace directory: %w", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if rmErr := os.RemoveAll(workspacePath); rmErr == nil {
			p.logger.Warn("Rolled back workspace at %s", workspacePath)
		}
	}()

	if err := p.buildWorkspace(ctx, workspacePath, roots, project, assetRepoURL, opts); err != nil {
		return "", err
	}

	if opts.CreateRemote {
		p.createRemote(ctx, workspacePath, opts)
	}

	relPath := utils.RelativeTo(workspacePath, opts.RepoRoot)
	project.Environments = append(project.Environments, &manifest.EnvironmentEntry{
		Name:          opts.EnvironmentName,
		WorkspacePath: relPath,
		AssetRepoURL:  assetRepoURL,
		AssetBranch:   opts.AssetBranch,
		ProjectType:   opts.ProjectType,
		CreatedAt:     p.Now().UTC().Truncate(time.Second).Format(time.RFC3339),
	})
	if err := manifest.Save(opts.ManifestPath, m); err != nil {
		return "", err
	}
	committed = true

	p.logger.Info("Updated manifest: %s", opts.ManifestPath)
	return workspacePath, nil
}

// buildWorkspace performs every step between directory creation and the
// manifest commit.
func (p *Provisioner) buildWorkspace(
	ctx context.Context,
	workspacePath string,
	scaffoldRoots []string,
	project *manifest.ProjectEntry,
	assetRepoURL string,
	opts Options,
) error {
	if err := p.git.Init(ctx, workspacePath); err != nil {
		return err
	}

	for _, subdir := range []string{"agent-context", "scratch"} {
		keep := filepath.Join(workspacePath, subdir, ".gitkeep")
		if err := utils.WriteFileWithDirs(keep, nil, 0o644); err != nil {
			return err
		}
	}

	ws := BuildSpec(opts.EnvironmentName, opts.ProjectType, opts.OrgSlug, opts.ProjectSlug, p.Now())
	if err := ws.Validate(); err != nil {
		return fmt.Errorf("failed to generate spec: %w", err)
	}

	specYAML, err := SpecYAML(ws)
	if err != nil {
		return err
	}
	devcontainerDir := filepath.Join(workspacePath, ".devcontainer")
	if err := utils.WriteFileWithDirs(filepath.Join(devcontainerDir, "workspace-spec.yaml"), specYAML, 0o644); err != nil {
		return err
	}

	devcontainerJSON, err := ws.DevcontainerJSON()
	if err != nil {
		return err
	}
	if err := utils.WriteFileWithDirs(filepath.Join(devcontainerDir, "devcontainer.json"), devcontainerJSON, 0o644); err != nil {
		return err
	}
	p.logger.Info("Wrote devcontainer configuration to %s", devcontainerDir)

	rendered, err := templates.NewRenderer(scaffoldRoots).RenderAll(templates.ScaffoldContext{
		WorkspaceName: opts.EnvironmentName,
		OrgSlug:       opts.OrgSlug,
		ProjectSlug:   opts.ProjectSlug,
		ProjectType:   opts.ProjectType,
		AssetRepoURL:  assetRepoURL,
		Config:        project.Config,
		Features:      project.Features,
	})
	if err != nil {
		return err
	}
	if err := templates.WriteAll(workspacePath, rendered); err != nil {
		return err
	}

	projectID := fmt.Sprintf("%s-%s-%s", opts.OrgSlug, opts.ProjectSlug, opts.EnvironmentName)
	agentYAML, err := AgentProjectYAML(projectID, opts.OrgSlug, opts.ProjectSlug, opts.EnvironmentName, assetRepoURL)
	if err != nil {
		return err
	}
	if err := utils.WriteFileWithDirs(filepath.Join(workspacePath, "agent-project.yaml"), agentYAML, 0o644); err != nil {
		return err
	}

	if err := p.git.AddSubmodule(ctx, workspacePath, assetRepoURL, "codebase", opts.AssetBranch); err != nil {
		return err
	}
	if err := p.git.PinSubmoduleBranch(ctx, workspacePath, "codebase", opts.AssetBranch); err != nil {
		return err
	}
	if err := p.git.AddAll(ctx, workspacePath); err != nil {
		return err
	}
	if err := p.git.Commit(ctx, workspacePath, "Init workspace "+opts.EnvironmentName); err != nil {
		return err
	}
	p.logger.Info("Initialized workspace repo at %s", workspacePath)
	return nil
}

// createRemote creates and pushes the GitHub remote. Remote failures are
// warnings: the local workspace is complete and usable without one.
func (p *Provisioner) createRemote(ctx context.Context, workspacePath string, opts Options) {
	repoName := github.RepoName(opts.EnvironmentName, opts.GHOrg, opts.GHName)
	if !p.github.Available(ctx) {
		p.logger.Warn("Failed to create/push remote repo. Ensure 'gh' is installed and authenticated.")
		return
	}
	if err := p.github.CreateRepo(ctx, workspacePath, repoName); err != nil {
		p.logger.Warn("Failed to create/push remote repo. Ensure 'gh' is installed and authenticated.")
	}
}
