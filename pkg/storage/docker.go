package storage

import (
	"context"
	"fmt"
	"strings"

	"codespaces/pkg/exec"
	"codespaces/pkg/logx"
)

// JuiceFSPlugin is the Docker volume plugin used for mounted-mode root
// volumes.
const JuiceFSPlugin = "juicedata/juicefs"

// Docker wraps the docker CLI for the volume operations storage needs.
type Docker struct {
	exec   exec.Executor
	logger *logx.Logger
}

// NewDocker creates a Docker wrapper backed by the given executor.
func NewDocker(executor exec.Executor) *Docker {
	return &Docker{exec: executor, logger: logx.NewLogger("docker")}
}

func (d *Docker) run(ctx context.Context, cmd []string, opts exec.Opts) (exec.Result, error) {
	result, err := d.exec.Run(ctx, cmd, opts)
	if err != nil {
		return result, fmt.Errorf("%s: %w", strings.Join(cmd[:2], " "), err)
	}
	return result, nil
}

// PluginInstalled reports whether the JuiceFS volume plugin is installed and
// enabled.
func (d *Docker) PluginInstalled(ctx context.Context) bool {
	result, err := d.run(ctx, []string{"docker", "plugin", "ls", "--format", "{{.Name}} {{.Enabled}}"}, exec.Opts{})
	if err != nil || !result.Success() {
		return false
	}
	for _, line := range strings.Split(result.Stdout, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 && strings.HasPrefix(fields[0], JuiceFSPlugin) && fields[1] == "true" {
			return true
		}
	}
	return false
}

// VolumeExists reports whether a named volume exists.
func (d *Docker) VolumeExists(ctx context.Context, name string) bool {
	result, err := d.run(ctx, []string{"docker", "volume", "inspect", name}, exec.Opts{})
	return err == nil && result.Success()
}

// CreateVolume creates a plain local volume. Creating an existing volume is
// a no-op for docker, but callers gate on VolumeExists so initial seeding
// only happens once.
func (d *Docker) CreateVolume(ctx context.Context, name string) error {
	d.logger.Info("Creating volume %s", name)
	result, err := d.run(ctx, []string{"docker", "volume", "create", name}, exec.Opts{})
	if err != nil {
		return err
	}
	if !result.Success() {
		return fmt.Errorf("docker volume create %s failed (exit %d): %s", name, result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return nil
}

// CreateJuiceFSVolume creates a volume backed by the JuiceFS plugin, scoped
// to a subdir of the shared filesystem.
func (d *Docker) CreateJuiceFSVolume(ctx context.Context, name, filesystem, subdir string, env map[string]string) error {
	d.logger.Info("Creating JuiceFS volume %s (subdir %s)", name, subdir)
	cmd := []string{
		"docker", "volume", "create",
		"--driver", JuiceFSPlugin,
		"-o", "name=" + filesystem,
		"-o", "metaurl=" + env["JUICEFS_DSN"],
		"-o", "access-key=" + env["S3_ACCESS_KEY_ID"],
		"-o", "secret-key=" + env["S3_SECRET_ACCESS_KEY"],
		"-o", "subdir=" + subdir,
		name,
	}
	result, err := d.run(ctx, cmd, exec.Opts{})
	if err != nil {
		return err
	}
	if !result.Success() {
		return fmt.Errorf("docker volume create %s failed (exit %d): %s", name, result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return nil
}
