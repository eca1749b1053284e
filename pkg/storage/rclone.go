package storage

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"codespaces/pkg/exec"
	"codespaces/pkg/logx"
	"codespaces/pkg/spec"
)

// RcloneImage is the container image used for host-side rclone operations,
// so the host does not need rclone installed.
const RcloneImage = "rclone/rclone:latest"

var rcloneEnvPlaceholderRe = regexp.MustCompile(`^\$\{([A-Z0-9_]+)\}$`)

// Rclone wraps host-side rclone operations (remote probing and initial
// volume seeding). Steady-state replication runs inside the container; this
// only covers what `up` needs before the container exists.
type Rclone struct {
	exec   exec.Executor
	logger *logx.Logger
}

// NewRclone creates an Rclone wrapper backed by the given executor.
func NewRclone(executor exec.Executor) *Rclone {
	return &Rclone{exec: executor, logger: logx.NewLogger("rclone")}
}

// ResolveRcloneEnv builds the RCLONE_CONFIG_* environment for a remote.
// Option values of the form ${VAR} are resolved from the host environment;
// a placeholder that resolves to nothing is an error because rclone would
// silently run with broken credentials.
func ResolveRcloneEnv(cfg *spec.RcloneConfig, getenv Getenv) (map[string]string, error) {
	remote := strings.ToUpper(strings.ReplaceAll(cfg.RemoteName, "-", "_"))
	env := map[string]string{
		fmt.Sprintf("RCLONE_CONFIG_%s_TYPE", remote): cfg.Type,
	}
	for _, key := range sortedMapKeys(cfg.Options) {
		value := cfg.Options[key]
		if m := rcloneEnvPlaceholderRe.FindStringSubmatch(value); m != nil {
			resolved := getenv(m[1])
			if resolved == "" {
				return nil, fmt.Errorf("rclone option %s references unset env var %s", key, m[1])
			}
			value = resolved
		}
		optKey := strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
		env[fmt.Sprintf("RCLONE_CONFIG_%s_%s", remote, optKey)] = value
	}
	return env, nil
}

// containerCmd wraps an rclone invocation in a docker run, attaching the
// volume at /data and passing the resolved remote config through the
// environment.
func (r *Rclone) containerCmd(volume string, env map[string]string, args ...string) []string {
	cmd := []string{"docker", "run", "--rm"}
	if volume != "" {
		cmd = append(cmd, "-v", volume+":/data")
	}
	for _, key := range sortedMapKeys(env) {
		cmd = append(cmd, "-e", key+"="+env[key])
	}
	cmd = append(cmd, RcloneImage)
	return append(cmd, args...)
}

// RemoteHasData reports whether the remote path holds any entries.
func (r *Rclone) RemoteHasData(ctx context.Context, remotePath string, env map[string]string) bool {
	cmd := r.containerCmd("", env, "lsd", "--max-depth", "1", remotePath)
	result, err := r.exec.Run(ctx, cmd, exec.Opts{})
	if err != nil || !result.Success() {
		return false
	}
	return strings.TrimSpace(result.Stdout) != ""
}

// SeedVolume pulls the remote path into a fresh volume.
func (r *Rclone) SeedVolume(ctx context.Context, volume, remotePath string, exclude []string, env map[string]string) error {
	r.logger.Info("Seeding volume %s from %s", volume, remotePath)
	args := []string{"sync", remotePath, "/data", "--fast-list", "--transfers", "16"}
	for _, pattern := range exclude {
		args = append(args, "--exclude", pattern)
	}
	result, err := r.exec.Run(ctx, r.containerCmd(volume, env, args...), exec.Opts{Stream: true})
	if err != nil {
		return fmt.Errorf("rclone sync: %w", err)
	}
	if !result.Success() {
		return fmt.Errorf("rclone sync %s failed (exit %d): %s", remotePath, result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return nil
}

// ResyncVolume establishes the bisync baseline between a fresh volume and
// its remote path. Bidirectional paths need this once before the in-container
// daemon can run incremental bisyncs.
func (r *Rclone) ResyncVolume(ctx context.Context, volume, remotePath string, env map[string]string) error {
	r.logger.Info("Establishing bisync baseline for %s against %s", volume, remotePath)
	args := []string{"bisync", remotePath, "/data", "--check-access", "--max-delete", "10", "--resync"}
	result, err := r.exec.Run(ctx, r.containerCmd(volume, env, args...), exec.Opts{Stream: true})
	if err != nil {
		return fmt.Errorf("rclone bisync: %w", err)
	}
	if !result.Success() {
		return fmt.Errorf("rclone bisync %s failed (exit %d): %s", remotePath, result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return nil
}
