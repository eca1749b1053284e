package storage

import (
	"context"
	"fmt"
	"strings"

	"codespaces/pkg/exec"
	"codespaces/pkg/logx"
	"codespaces/pkg/spec"
	"codespaces/pkg/utils"
)

// Volume name prefixes encode scope so `docker volume ls` output groups
// naturally and scopes can never collide. Components are sanitized because
// Docker volume names must match [a-zA-Z0-9][a-zA-Z0-9_.-]*.
func GlobalVolumeName(org, name string) string {
	return fmt.Sprintf("g-%s-%s", utils.SanitizeIdentifier(org), utils.SanitizeIdentifier(name))
}

func ProjectVolumeName(project, name string) string {
	return fmt.Sprintf("p-%s-%s", utils.SanitizeIdentifier(project), utils.SanitizeIdentifier(name))
}

func EnvVolumeName(workspace, name string) string {
	return fmt.Sprintf("e-%s-%s", utils.SanitizeIdentifier(workspace), utils.SanitizeIdentifier(name))
}

// ResolveRemotePath expands the {org}/{project}/{env} placeholders in a
// sync remote path.
func ResolveRemotePath(remotePath, org, project, env string) string {
	r := strings.NewReplacer("{org}", org, "{project}", project, "{env}", env)
	return r.Replace(remotePath)
}

// VolumeMount pairs a created Docker volume with its in-container mount
// path, for rendering devcontainer mount arguments.
type VolumeMount struct {
	Volume    string
	MountPath string
	ReadOnly  bool
}

// MountArg renders the devcontainer CLI --mount argument for this volume.
func (v VolumeMount) MountArg() string {
	arg := fmt.Sprintf("type=volume,source=%s,target=%s", v.Volume, v.MountPath)
	if v.ReadOnly {
		arg += ",readonly"
	}
	return arg
}

// VolumeManager creates and seeds the scoped Docker volumes replicated
// persistence runs on.
type VolumeManager struct {
	docker *Docker
	rclone *Rclone
	logger *logx.Logger
}

// NewVolumeManager creates a VolumeManager backed by the given executor.
func NewVolumeManager(executor exec.Executor) *VolumeManager {
	return &VolumeManager{
		docker: NewDocker(executor),
		rclone: NewRclone(executor),
		logger: logx.NewLogger("volumes"),
	}
}

// ensureVolume creates the volume if absent and reports whether it was
// created, so seeding only runs on first use.
func (vm *VolumeManager) ensureVolume(ctx context.Context, name string) (bool, error) {
	if vm.docker.VolumeExists(ctx, name) {
		return false, nil
	}
	if err := vm.docker.CreateVolume(ctx, name); err != nil {
		return false, err
	}
	return true, nil
}

// EnsureGlobalVolume creates a globally shared pull-only volume and seeds it
// from its remote path when the remote already holds data.
func (vm *VolumeManager) EnsureGlobalVolume(ctx context.Context, vol *spec.RcloneVolumeConfig, remoteName, bucket, org string, rcloneEnv map[string]string) (VolumeMount, error) {
	name := GlobalVolumeName(org, vol.Name)
	created, err := vm.ensureVolume(ctx, name)
	if err != nil {
		return VolumeMount{}, err
	}
	remotePath := fmt.Sprintf("%s:%s/%s", remoteName, bucket, ResolveRemotePath(vol.RemotePath, org, "", ""))
	if created && vm.rclone.RemoteHasData(ctx, remotePath, rcloneEnv) {
		if err := vm.rclone.SeedVolume(ctx, name, remotePath, vol.Exclude, rcloneEnv); err != nil {
			return VolumeMount{}, err
		}
	}
	return VolumeMount{Volume: name, MountPath: vol.MountPath, ReadOnly: vol.ReadOnly}, nil
}

// EnsureProjectVolume creates a project-shared volume. Bidirectional volumes
// get a bisync baseline on first creation; pull-only volumes are seeded like
// global ones.
func (vm *VolumeManager) EnsureProjectVolume(ctx context.Context, vol *spec.RcloneVolumeConfig, remoteName, bucket, org, project string, rcloneEnv map[string]string) (VolumeMount, error) {
	name := ProjectVolumeName(project, vol.Name)
	created, err := vm.ensureVolume(ctx, name)
	if err != nil {
		return VolumeMount{}, err
	}
	remotePath := fmt.Sprintf("%s:%s/%s", remoteName, bucket, ResolveRemotePath(vol.RemotePath, org, project, ""))
	if created {
		switch vol.Sync {
		case spec.SyncPullOnly:
			if vm.rclone.RemoteHasData(ctx, remotePath, rcloneEnv) {
				if err := vm.rclone.SeedVolume(ctx, name, remotePath, vol.Exclude, rcloneEnv); err != nil {
					return VolumeMount{}, err
				}
			}
		default:
			if err := vm.rclone.ResyncVolume(ctx, name, remotePath, rcloneEnv); err != nil {
				return VolumeMount{}, err
			}
		}
	}
	return VolumeMount{Volume: name, MountPath: vol.MountPath, ReadOnly: vol.ReadOnly}, nil
}

// EnsureEnvVolume creates a workspace-private volume. No seeding happens
// here; the in-container sync daemon owns the data flow for environment
// scope.
func (vm *VolumeManager) EnsureEnvVolume(ctx context.Context, vol *spec.RcloneVolumeConfig, workspace string) (VolumeMount, error) {
	name := EnvVolumeName(workspace, vol.Name)
	if _, err := vm.ensureVolume(ctx, name); err != nil {
		return VolumeMount{}, err
	}
	return VolumeMount{Volume: name, MountPath: vol.MountPath, ReadOnly: vol.ReadOnly}, nil
}

// CreateMultiScopeVolumes materializes every volume a workspace references
// across global, project, and environment scopes. Refs are resolved against
// the fleet storage config; a dangling ref is an error because the
// devcontainer would boot with a missing mount.
func (vm *VolumeManager) CreateMultiScopeVolumes(ctx context.Context, ws *spec.WorkspaceSpec, cfg *spec.StorageConfig, org, project, workspace, remoteName, bucket string, rcloneEnv map[string]string) ([]VolumeMount, error) {
	refs := ws.Persistence.GetAllVolumeRefs()
	var mounts []VolumeMount

	for _, ref := range refs.GlobalRefs {
		vol := cfg.ResolveVolume(ref, "global", project)
		if vol == nil {
			return nil, fmt.Errorf("global volume %q is not defined in the storage config", ref)
		}
		mount, err := vm.EnsureGlobalVolume(ctx, vol, remoteName, bucket, org, rcloneEnv)
		if err != nil {
			return nil, fmt.Errorf("global volume %s: %w", ref, err)
		}
		mounts = append(mounts, mount)
	}
	for _, ref := range refs.ProjectRefs {
		vol := cfg.ResolveVolume(ref, "project", project)
		if vol == nil {
			return nil, fmt.Errorf("project volume %q is not defined in the storage config for project %s", ref, project)
		}
		mount, err := vm.EnsureProjectVolume(ctx, vol, remoteName, bucket, org, project, rcloneEnv)
		if err != nil {
			return nil, fmt.Errorf("project volume %s: %w", ref, err)
		}
		mounts = append(mounts, mount)
	}
	for i := range refs.Environment {
		vol := &refs.Environment[i]
		mount, err := vm.EnsureEnvVolume(ctx, vol, workspace)
		if err != nil {
			return nil, fmt.Errorf("environment volume %s: %w", vol.Name, err)
		}
		mounts = append(mounts, mount)
	}
	return mounts, nil
}
