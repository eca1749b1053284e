package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"codespaces/pkg/exec"
	"codespaces/pkg/logx"
	"codespaces/pkg/manifest"
	"codespaces/pkg/spec"
)

// WorkspaceStorageRoot is where the mounted-mode root volume appears inside
// the container; post-create links individual mounts out of it.
const WorkspaceStorageRoot = "/mnt/workspace-storage"

// UpOptions configures the host-side workspace boot.
type UpOptions struct {
	// RepoRoot is the fleet repository root.
	RepoRoot string

	// Target is a workspace path or an environment name resolved under
	// codespaces/.
	Target string

	// ManifestPath overrides the manifest location. Defaults to
	// {RepoRoot}/codespaces/manifest.yaml.
	ManifestPath string

	// MappingPath overrides the mounted-mode storage mapping location.
	// Defaults to {RepoRoot}/nexus/persistence-mappings.yaml.
	MappingPath string

	// Rebuild recreates the container and skips the build cache.
	Rebuild bool

	// Getenv overrides environment lookup, primarily for tests. Defaults
	// to os.Getenv.
	Getenv Getenv
}

func (o *UpOptions) applyDefaults() {
	if o.ManifestPath == "" {
		o.ManifestPath = filepath.Join(o.RepoRoot, "codespaces", "manifest.yaml")
	}
	if o.MappingPath == "" {
		o.MappingPath = filepath.Join(o.RepoRoot, "nexus", "persistence-mappings.yaml")
	}
	if o.Getenv == nil {
		o.Getenv = os.Getenv
	}
}

// Booter drives the storage preparation and devcontainer boot for a
// workspace.
type Booter struct {
	exec    exec.Executor
	volumes *VolumeManager
	docker  *Docker
	juicefs *JuiceFS
	logger  *logx.Logger
}

// NewBooter creates a Booter backed by the given executor.
func NewBooter(executor exec.Executor) *Booter {
	return &Booter{
		exec:    executor,
		volumes: NewVolumeManager(executor),
		docker:  NewDocker(executor),
		juicefs: NewJuiceFS(executor),
		logger:  logx.NewLogger("up"),
	}
}

// resolveWorkspaceDir accepts either a path or a bare environment name.
func resolveWorkspaceDir(repoRoot, target string) (string, error) {
	if info, err := os.Stat(target); err == nil && info.IsDir() {
		return filepath.Abs(target)
	}
	candidate := filepath.Join(repoRoot, "codespaces", target)
	if info, err := os.Stat(candidate); err == nil && info.IsDir() {
		return candidate, nil
	}
	return "", fmt.Errorf("workspace %q not found (tried %s)", target, candidate)
}

// identity is the org/project/env triple a workspace's volumes and remote
// paths are keyed by.
type identity struct {
	org, project, env string
}

// resolveIdentity prefers the manifest; a workspace missing from the
// manifest still boots, with the identity derived from its path.
func (b *Booter) resolveIdentity(manifestPath, repoRoot, workspaceDir string) identity {
	m, err := manifest.Load(manifestPath)
	if err == nil {
		if entry := m.Find(workspaceDir, repoRoot); entry != nil {
			return identity{org: entry.OrgSlug, project: entry.ProjectSlug, env: entry.Environment.Name}
		}
	}
	b.logger.Warn("Workspace %s is not registered in the manifest; deriving identity from its path", workspaceDir)
	env := filepath.Base(workspaceDir)
	project := filepath.Base(filepath.Dir(workspaceDir))
	org := filepath.Base(filepath.Dir(filepath.Dir(workspaceDir)))
	return identity{org: org, project: project, env: env}
}

// Up prepares storage for a workspace and boots its devcontainer.
func (b *Booter) Up(ctx context.Context, opts UpOptions) error {
	opts.applyDefaults()

	workspaceDir, err := resolveWorkspaceDir(opts.RepoRoot, opts.Target)
	if err != nil {
		return err
	}
	ws, err := spec.Load(filepath.Join(workspaceDir, ".devcontainer", "workspace-spec.yaml"))
	if err != nil {
		return err
	}
	if err := ws.Validate(); err != nil {
		return err
	}
	if err := CheckRequiredEnvVars(ws, opts.Getenv); err != nil {
		return err
	}

	id := b.resolveIdentity(opts.ManifestPath, opts.RepoRoot, workspaceDir)

	var mountArgs []string
	if ws.Persistence.Enabled {
		switch ws.Persistence.Mode {
		case spec.ModeReplicated:
			mounts, err := b.prepareReplicated(ctx, ws, opts, id)
			if err != nil {
				return err
			}
			for _, m := range mounts {
				mountArgs = append(mountArgs, "--mount", m.MountArg())
			}
		case spec.ModeMounted:
			mount, err := b.prepareMounted(ctx, ws, opts, id, workspaceDir)
			if err != nil {
				return err
			}
			mountArgs = append(mountArgs, "--mount", mount.MountArg())
		}
	}

	return b.devcontainerUp(ctx, workspaceDir, mountArgs, opts.Rebuild)
}

// prepareReplicated creates the scoped volumes replicated persistence mounts
// into the container. Sync paths need no host-side work; the in-container
// daemon owns them.
func (b *Booter) prepareReplicated(ctx context.Context, ws *spec.WorkspaceSpec, opts UpOptions, id identity) ([]VolumeMount, error) {
	refs := ws.Persistence.GetAllVolumeRefs()
	if len(refs.GlobalRefs) == 0 && len(refs.ProjectRefs) == 0 && len(refs.Environment) == 0 {
		return nil, nil
	}

	rcfg := ws.Persistence.RcloneConfig
	if rcfg == nil {
		def := spec.DefaultRcloneConfig()
		rcfg = &def
	}
	rcloneEnv, err := ResolveRcloneEnv(rcfg, opts.Getenv)
	if err != nil {
		return nil, err
	}
	bucket := opts.Getenv("RCLONE_BUCKET")
	if bucket == "" {
		bucket = DefaultBucket
	}

	cfg := &spec.StorageConfig{}
	if path := FindStorageConfig(opts.RepoRoot); path != "" {
		cfg, err = spec.LoadStorageConfig(path)
		if err != nil {
			return nil, err
		}
	} else if len(refs.GlobalRefs) > 0 || len(refs.ProjectRefs) > 0 {
		return nil, fmt.Errorf("workspace references shared volumes but no storage-config.yaml was found under %s", opts.RepoRoot)
	}

	return b.volumes.CreateMultiScopeVolumes(ctx, ws, cfg, id.org, id.project, id.env, rcfg.RemoteName, bucket, rcloneEnv)
}

// prepareMounted formats the shared JuiceFS filesystem if needed, creates the
// workspace root volume on the volume plugin, and records the link layout
// post-create applies inside the container.
func (b *Booter) prepareMounted(ctx context.Context, ws *spec.WorkspaceSpec, opts UpOptions, id identity, workspaceDir string) (VolumeMount, error) {
	mapping, err := LoadMapping(opts.MappingPath)
	if err != nil {
		return VolumeMount{}, err
	}
	env, err := ResolveStorageEnv(mapping, opts.Getenv)
	if err != nil {
		return VolumeMount{}, err
	}
	if !b.docker.PluginInstalled(ctx) {
		return VolumeMount{}, fmt.Errorf("docker volume plugin %s is not installed or enabled", JuiceFSPlugin)
	}
	if !b.juicefs.IsFormatted(ctx, env) {
		if err := b.juicefs.Format(ctx, mapping.Filesystem, env); err != nil {
			return VolumeMount{}, err
		}
	}

	if entry, ok := mapping.Workspaces[fmt.Sprintf("%s/%s/%s", id.org, id.project, id.env)]; ok {
		if err := validateMapped(workspaceDir, entry); err != nil {
			return VolumeMount{}, err
		}
	}

	name := fmt.Sprintf("csvol-%s-%s-%s-root", id.org, id.project, id.env)
	if !b.docker.VolumeExists(ctx, name) {
		subdir := strings.Join([]string{strings.Trim(mapping.RootPrefix, "/"), id.org, id.project, id.env}, "/")
		if err := b.docker.CreateJuiceFSVolume(ctx, name, mapping.Filesystem, subdir, env); err != nil {
			return VolumeMount{}, err
		}
	}
	if err := writeStorageLinks(workspaceDir, ws.Persistence.Mounts); err != nil {
		return VolumeMount{}, err
	}
	return VolumeMount{Volume: name, MountPath: WorkspaceStorageRoot}, nil
}

// validateMapped surfaces mapping drift as a warning only; a stale mapping
// should not block a boot.
func validateMapped(workspaceDir string, entry *WorkspaceStorageEntry) error {
	if err := ValidateMountsMatchSpec(workspaceDir, entry); err != nil {
		logx.NewLogger("up").Warn("%v", err)
	}
	return nil
}

type storageLink struct {
	Target string `json:"target"`
	Source string `json:"source"`
}

// writeStorageLinks records target/source pairs for the in-container
// post-create script to link against the mounted storage root.
func writeStorageLinks(workspaceDir string, mounts []spec.PersistenceMount) error {
	links := make([]storageLink, 0, len(mounts))
	for _, m := range mounts {
		links = append(links, storageLink{Target: m.Target, Source: m.Source})
	}
	data, err := json.MarshalIndent(links, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(workspaceDir, ".devcontainer", "storage-links.json")
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing storage links: %w", err)
	}
	return nil
}

// devcontainerUp invokes the devcontainer CLI against the workspace folder.
func (b *Booter) devcontainerUp(ctx context.Context, workspaceDir string, mountArgs []string, rebuild bool) error {
	cmd := []string{"devcontainer", "up", "--workspace-folder", workspaceDir}
	if rebuild {
		cmd = append(cmd, "--remove-existing-container", "--build-no-cache")
	}
	cmd = append(cmd, mountArgs...)

	b.logger.Info("Booting devcontainer for %s", workspaceDir)
	result, err := b.exec.Run(ctx, cmd, exec.Opts{Stream: true})
	if err != nil {
		return fmt.Errorf("devcontainer up: %w", err)
	}
	if !result.Success() {
		return fmt.Errorf("devcontainer up failed (exit %d): %s", result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return nil
}
