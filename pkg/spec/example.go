package spec

// Example returns a sample workspace spec used for tests and docs.
func Example() *WorkspaceSpec {
	return &WorkspaceSpec{
		Name:    "formualizer-dev",
		Version: "1.0.0",
		Metadata: WorkspaceMetadata{
			Org:         "coltec",
			Project:     "formualizer",
			Environment: "dev",
			Description: "Main developer workspace for the Formualizer engine",
			Tags:        []string{"rust", "open-source"},
		},
		Devcontainer: DevcontainerSpec{
			Template: TemplateRef{
				Name: "rust",
				Path: "devcontainer_templates/rust.json.tmpl",
			},
			Image:           ImageRef{Name: "ghcr.io/psu3d0/coltec-codespace:1.0-base-dind-net"},
			User:            "vscode",
			WorkspaceFolder: "/workspace",
			WorkspaceMount:  "source=${localWorkspaceFolder},target=/workspace,type=bind",
			RunArgs:         []string{"--cap-add=SYS_PTRACE", "--security-opt=seccomp=unconfined"},
			Mounts: []MountSpec{
				{Source: "formualizer-dev-home", Target: "/home/vscode", Type: "volume"},
			},
			Lifecycle: LifecycleHooks{
				PostCreate: []string{"./.devcontainer/scripts/post-create.sh"},
				PostStart:  []string{"./.devcontainer/scripts/post-start.sh"},
			},
			Customizations: EditorCustomization{
				Extensions: EditorExtensions{
					Recommended: []string{
						"ms-azuretools.vscode-docker",
						"rust-lang.rust-analyzer",
						"tamasfe.even-better-toml",
					},
				},
				Settings: EditorSettings{
					Values: map[string]any{
						"terminal.integrated.defaultProfile.linux": "tmux",
						"files.trimTrailingWhitespace":             true,
					},
				},
			},
		},
		Networking: NetworkingSpec{
			Enabled:        true,
			HostnamePrefix: "dev-",
			Tags:           []string{"tag:devcontainer"},
		},
		Persistence: PersistenceSpec{
			Enabled: true,
			Mode:    ModeMounted,
			Scope:   "project",
			Mounts: []PersistenceMount{
				{Name: "agent-context", Target: "/workspace/agent-context", Source: "agent-context", Type: "symlink"},
				{Name: "scratch", Target: "/workspace/scratch", Source: "scratch", Type: "symlink"},
			},
		},
	}
}
