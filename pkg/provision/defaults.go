// Package provision creates and reconciles fleet workspaces: directory
// layout, git wiring, rendered devcontainer artifacts, and manifest
// registration.
package provision

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"codespaces/pkg/spec"
	"codespaces/pkg/utils"
)

// Defaults baked into generated workspace specs.
const (
	DefaultImage    = "ghcr.io/psu3d0/coltec-codespace:1.0-base-dind-net"
	WorkspaceFolder = "/workspace"
	DefaultBranch   = "main"
)

//nolint:gochecknoglobals // configuration tables shared by provision and update
var (
	defaultRunArgs = []string{"--cap-add=SYS_PTRACE", "--security-opt=seccomp=unconfined"}

	devcontainerTemplateMap = map[string]string{
		"python":   "python.json.tmpl",
		"node":     "node.json.tmpl",
		"rust":     "rust.json.tmpl",
		"monorepo": "monorepo.json.tmpl",
		"other":    "other.json.tmpl",
	}

	baseExtensions = []string{
		"ms-azuretools.vscode-docker",
		"ms-vscode.makefile-tools",
		"ms-vscode.remote-explorer",
		"fill-labs.dependi",
	}

	pythonExtensions = []string{"ms-python.python"}
	nodeExtensions   = []string{"dbaeumer.vscode-eslint", "esbenp.prettier-vscode"}
	rustExtensions   = []string{"rust-lang.rust-analyzer", "tamasfe.even-better-toml"}

	projectExtensionMap = map[string][]string{
		"python":   pythonExtensions,
		"node":     nodeExtensions,
		"rust":     rustExtensions,
		"monorepo": concat(pythonExtensions, nodeExtensions, rustExtensions),
		"other":    {},
	}
)

func concat(lists ...[]string) []string {
	var out []string
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}

// baseSettings returns a fresh copy of the default editor settings so callers
// can mutate their view safely.
func baseSettings() map[string]any {
	return map[string]any{
		"terminal.integrated.defaultProfile.linux": "tmux",
		"terminal.integrated.profiles.linux": map[string]any{
			"zsh": map[string]any{"path": "/usr/bin/zsh"},
			"resumable-tmux": map[string]any{
				"path": "/usr/bin/tmux",
				"args": []string{"new-session", "-A", "-s", "devcontainer"},
			},
		},
		"terminal.integrated.cwd":              "/workspace",
		"terminal.integrated.localEchoEnabled": "on",
		"files.trimTrailingWhitespace":         true,
		"editor.formatOnSave":                  true,
		"python.analysis.typeCheckingMode":     "strict",
		"rust-analyzer.cargo.allFeatures":      true,
		"rust-analyzer.check.command":          "clippy",
		"git.openRepositoryInParentFolders":    "always",
	}
}

// BuildSpec constructs the workspace spec for a new environment from the
// project-type defaults. The now argument feeds generated_at so tests can pin
// the timestamp.
func BuildSpec(workspaceName, projectType, orgSlug, projectSlug string, now time.Time) *spec.WorkspaceSpec {
	templateFile, ok := devcontainerTemplateMap[projectType]
	if !ok {
		templateFile = devcontainerTemplateMap["other"]
	}

	extensions := utils.Dedupe(append(append([]string{}, baseExtensions...), projectExtensionMap[projectType]...))

	return &spec.WorkspaceSpec{
		Name:    workspaceName,
		Version: "1.0.0",
		Metadata: spec.WorkspaceMetadata{
			Org:         orgSlug,
			Project:     projectSlug,
			Environment: workspaceName,
			Description: fmt.Sprintf("Workspace for %s", projectSlug),
			Tags:        utils.Dedupe([]string{projectType, orgSlug, projectSlug}),
		},
		Devcontainer: spec.DevcontainerSpec{
			Template: spec.TemplateRef{
				Name: projectType,
				Path: "devcontainer_templates/" + templateFile,
			},
			Image:           spec.ImageRef{Name: DefaultImage},
			User:            "vscode",
			WorkspaceFolder: WorkspaceFolder,
			WorkspaceMount:  "source=${localWorkspaceFolder},target=/workspace,type=bind",
			RunArgs:         append([]string{}, defaultRunArgs...),
			Mounts: []spec.MountSpec{
				{Source: workspaceName + "-home", Target: "/home/vscode", Type: "volume"},
				{Source: workspaceName + "-tool-cache", Target: "/home/vscode/.cache", Type: "volume"},
			},
			Lifecycle: spec.LifecycleHooks{
				PostCreate: []string{"./.devcontainer/scripts/post-create.sh"},
				PostStart:  []string{"./.devcontainer/scripts/post-start.sh"},
			},
			Customizations: spec.EditorCustomization{
				Extensions: spec.EditorExtensions{Recommended: extensions},
				Settings:   spec.EditorSettings{Values: baseSettings()},
			},
		},
		Networking: spec.NetworkingSpec{
			HostnamePrefix: "dev-",
			Tags:           []string{"tag:devcontainer"},
		},
		Persistence: spec.PersistenceSpec{
			Mode:  spec.ModeMounted,
			Scope: "project",
		},
		GeneratedAt: now.UTC().Truncate(time.Second).Format(time.RFC3339),
	}
}

// SpecYAML serializes a workspace spec with two-space indent. Output is
// deterministic so update runs can compare the on-disk file against a fresh
// render textually.
func SpecYAML(w *spec.WorkspaceSpec) ([]byte, error) {
	var buf strings.Builder
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(w); err != nil {
		return nil, fmt.Errorf("encoding workspace spec: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encoding workspace spec: %w", err)
	}
	return []byte(buf.String()), nil
}

// AgentProjectYAML renders the agent-project.yaml policy document that pins
// the workspace's repos and write boundaries for agent tooling.
func AgentProjectYAML(projectID, orgSlug, projectSlug, environment, assetRepoURL string) ([]byte, error) {
	doc := agentProject{
		ProjectID:   projectID,
		Org:         orgSlug,
		Project:     projectSlug,
		Environment: environment,
		Repos: []agentRepo{
			{Name: "app", Path: "codebase", URL: assetRepoURL},
		},
		Policies: agentPolicies{
			WritePaths: []string{
				"codebase/**",
				"agent-context/**",
				"scratch/**",
			},
			ReadOnlyPaths: []string{},
		},
	}

	var buf strings.Builder
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encoding agent-project.yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encoding agent-project.yaml: %w", err)
	}
	return []byte(buf.String()), nil
}

type agentRepo struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
	URL  string `yaml:"url"`
}

type agentPolicies struct {
	WritePaths    []string `yaml:"write_paths"`
	ReadOnlyPaths []string `yaml:"read_only_paths"`
}

type agentProject struct {
	ProjectID   string        `yaml:"project_id"`
	Org         string        `yaml:"org"`
	Project     string        `yaml:"project"`
	Environment string        `yaml:"environment"`
	Repos       []agentRepo   `yaml:"repos"`
	Policies    agentPolicies `yaml:"policies"`
}
