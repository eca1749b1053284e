// Package validate performs structural health checks on a provisioned
// workspace: directory layout, git wiring, config files, and manifest
// registration. Every check is recorded individually so the operator sees
// the full picture in one run instead of fixing failures one at a time.
package validate

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"codespaces/pkg/exec"
	"codespaces/pkg/manifest"
)

// Check is one recorded validation result.
type Check struct {
	OK      bool
	Message string
}

// Report collects the checks for one workspace.
type Report struct {
	Checks []Check
}

func (r *Report) record(ok bool, success, failure string) {
	message := success
	if !ok {
		message = failure
	}
	r.Checks = append(r.Checks, Check{OK: ok, Message: message})
}

// Passed reports whether every check succeeded.
func (r *Report) Passed() bool {
	for _, c := range r.Checks {
		if !c.OK {
			return false
		}
	}
	return true
}

// Failed returns the failing checks.
func (r *Report) Failed() []Check {
	var failed []Check
	for _, c := range r.Checks {
		if !c.OK {
			failed = append(failed, c)
		}
	}
	return failed
}

// Print writes the per-check lines and a final verdict.
func (r *Report) Print(w io.Writer) {
	for _, c := range r.Checks {
		symbol := "✓"
		if !c.OK {
			symbol = "✗"
		}
		fmt.Fprintf(w, "%s %s\n", symbol, c.Message)
	}
	if r.Passed() {
		fmt.Fprintf(w, "\nWorkspace validation passed.\n")
	} else {
		fmt.Fprintf(w, "\nWorkspace validation failed.\n")
	}
}

// Options configures a workspace validation run.
type Options struct {
	WorkspacePath string
	RepoRoot      string

	// ManifestPath defaults to {RepoRoot}/codespaces/manifest.yaml.
	ManifestPath string
}

// agentProjectDoc is the subset of agent-project.yaml the checks read.
type agentProjectDoc struct {
	Repos []struct {
		Path string `yaml:"path"`
		URL  string `yaml:"url"`
	} `yaml:"repos"`
	Policies struct {
		WritePaths []string `yaml:"write_paths"`
	} `yaml:"policies"`
}

// Validator runs workspace checks. Git state is probed through the
// executor so tests run without a git binary.
type Validator struct {
	exec exec.Executor
}

// New creates a Validator backed by the given executor.
func New(executor exec.Executor) *Validator {
	return &Validator{exec: executor}
}

func (v *Validator) isGitRepo(ctx context.Context, path string) bool {
	result, err := v.exec.Run(ctx, []string{"git", "-C", path, "rev-parse", "--is-inside-work-tree"}, exec.Opts{})
	return err == nil && result.Success()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// Workspace validates one workspace and returns the full report. The only
// hard error is a workspace path that does not exist; everything else is a
// recorded check.
func (v *Validator) Workspace(ctx context.Context, opts Options) (*Report, error) {
	if !dirExists(opts.WorkspacePath) {
		return nil, fmt.Errorf("workspace path does not exist: %s", opts.WorkspacePath)
	}
	manifestPath := opts.ManifestPath
	if manifestPath == "" {
		manifestPath = filepath.Join(opts.RepoRoot, "codespaces", "manifest.yaml")
	}

	report := &Report{}

	manifestExists := fileExists(manifestPath)
	report.record(manifestExists,
		fmt.Sprintf("Manifest found at %s", manifestPath),
		fmt.Sprintf("Manifest missing at %s", manifestPath))

	agentManifest := v.checkAgentProject(report, opts.WorkspacePath)
	v.checkGitLayout(ctx, report, opts.WorkspacePath)
	v.checkDevcontainer(report, opts.WorkspacePath)

	for _, dirname := range []string{"agent-context", "scratch"} {
		report.record(dirExists(filepath.Join(opts.WorkspacePath, dirname)),
			dirname+"/ directory present",
			dirname+"/ directory missing")
	}

	report.record(workspaceReadmeExists(opts.WorkspacePath),
		"Workspace README present",
		"Workspace README missing")

	report.record(v.isGitRepo(ctx, opts.WorkspacePath),
		"Workspace root is a git repository",
		"Workspace root is not a git repository")

	v.checkManifestEntry(report, manifestPath, opts, agentManifest)
	return report, nil
}

func (v *Validator) checkAgentProject(report *Report, workspacePath string) *agentProjectDoc {
	path := filepath.Join(workspacePath, "agent-project.yaml")
	present := fileExists(path)
	report.record(present, "agent-project.yaml present", "agent-project.yaml missing")
	if !present {
		return nil
	}

	data, err := os.ReadFile(path)
	var doc agentProjectDoc
	if err == nil {
		err = yaml.Unmarshal(data, &doc)
	}
	report.record(err == nil,
		"agent-project.yaml parsed",
		fmt.Sprintf("agent-project.yaml invalid YAML: %v", err))
	if err != nil {
		return nil
	}

	hasCodebase := false
	for _, repo := range doc.Repos {
		if repo.Path == "codebase" {
			hasCodebase = true
		}
	}
	report.record(hasCodebase,
		"agent-project.yaml declares codebase repo",
		"agent-project.yaml missing codebase repo entry")

	hasPolicy := false
	for _, wp := range doc.Policies.WritePaths {
		if wp == "codebase/**" {
			hasPolicy = true
		}
	}
	report.record(hasPolicy,
		"Policies include codebase/** write path",
		"Policies missing codebase/** write path")

	return &doc
}

func (v *Validator) checkGitLayout(ctx context.Context, report *Report, workspacePath string) {
	codebaseDir := filepath.Join(workspacePath, "codebase")
	present := dirExists(codebaseDir)
	report.record(present, "codebase/ directory present", "codebase/ directory missing")
	if present {
		report.record(v.isGitRepo(ctx, codebaseDir),
			"codebase/ is a git repository",
			"codebase/ is not a git repository")
	}

	gitmodules := filepath.Join(workspacePath, ".gitmodules")
	hasFile := fileExists(gitmodules)
	report.record(hasFile, ".gitmodules present", ".gitmodules missing")
	if hasFile {
		data, err := os.ReadFile(gitmodules)
		hasEntry := err == nil && containsLine(string(data), "path = codebase")
		report.record(hasEntry,
			".gitmodules references codebase submodule",
			".gitmodules missing codebase path entry")
	}
}

func (v *Validator) checkDevcontainer(report *Report, workspacePath string) {
	report.record(fileExists(filepath.Join(workspacePath, ".devcontainer", "devcontainer.json")),
		".devcontainer/devcontainer.json present",
		".devcontainer/devcontainer.json missing")
	report.record(fileExists(filepath.Join(workspacePath, ".devcontainer", "scripts", "post-create.sh")),
		"post-create script present",
		"post-create script missing")
	report.record(fileExists(filepath.Join(workspacePath, ".devcontainer", "scripts", "post-start.sh")),
		"post-start script present",
		"post-start script missing")
}

func (v *Validator) checkManifestEntry(report *Report, manifestPath string, opts Options, agentManifest *agentProjectDoc) {
	m, err := manifest.Load(manifestPath)
	if err != nil {
		report.record(false, "", fmt.Sprintf("Manifest unreadable: %v", err))
		return
	}

	entry := m.Find(opts.WorkspacePath, opts.RepoRoot)
	success := "Workspace listed in manifest"
	if entry != nil {
		success = fmt.Sprintf("Workspace listed in manifest (%s/%s/%s)",
			entry.OrgSlug, entry.ProjectSlug, entry.Environment.Name)
	}
	report.record(entry != nil, success, "Workspace missing from manifest")

	// Cross-check the asset repo URL recorded in the manifest against the
	// one agent-project.yaml points the agent at.
	if entry == nil || agentManifest == nil || entry.Environment.AssetRepoURL == "" {
		return
	}
	agentURL := ""
	for _, repo := range agentManifest.Repos {
		if repo.Path == "codebase" {
			agentURL = repo.URL
			break
		}
	}
	report.record(entry.Environment.AssetRepoURL == agentURL,
		"Manifest repo URL matches agent manifest",
		fmt.Sprintf("Manifest repo URL mismatch (manifest=%s, agent=%s)",
			entry.Environment.AssetRepoURL, agentURL))
}

func workspaceReadmeExists(workspacePath string) bool {
	for _, name := range []string{"README-workspace.md", "README.md"} {
		if fileExists(filepath.Join(workspacePath, name)) {
			return true
		}
	}
	return false
}

func containsLine(text, needle string) bool {
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == needle {
			return true
		}
	}
	return false
}
