package storage

import (
	"context"
	"fmt"
	"strings"

	"codespaces/pkg/exec"
	"codespaces/pkg/logx"
)

// JuiceFS wraps the juicefs CLI for mounted-mode persistence.
type JuiceFS struct {
	exec   exec.Executor
	logger *logx.Logger
}

// NewJuiceFS creates a JuiceFS wrapper backed by the given executor.
func NewJuiceFS(executor exec.Executor) *JuiceFS {
	return &JuiceFS{exec: executor, logger: logx.NewLogger("juicefs")}
}

func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for _, key := range sortedMapKeys(env) {
		out = append(out, key+"="+env[key])
	}
	return out
}

// IsFormatted reports whether the metadata DSN already holds a formatted
// filesystem.
func (j *JuiceFS) IsFormatted(ctx context.Context, env map[string]string) bool {
	result, err := j.exec.Run(ctx, []string{"juicefs", "status", env["JUICEFS_DSN"]}, exec.Opts{Env: envList(env)})
	return err == nil && result.Success()
}

// Format initializes the filesystem against the metadata DSN and bucket.
// Formatting an already-formatted DSN is an error, so callers gate on
// IsFormatted first.
func (j *JuiceFS) Format(ctx context.Context, filesystem string, env map[string]string) error {
	j.logger.Info("Formatting JuiceFS filesystem %s", filesystem)
	cmd := []string{
		"juicefs", "format",
		"--storage", "s3",
		"--bucket", fmt.Sprintf("%s/%s", strings.TrimSuffix(env["JUICEFS_S3_ENDPOINT"], "/"), env["JUICEFS_BUCKET"]),
		"--access-key", env["S3_ACCESS_KEY_ID"],
		"--secret-key", env["S3_SECRET_ACCESS_KEY"],
		env["JUICEFS_DSN"],
		filesystem,
	}
	result, err := j.exec.Run(ctx, cmd, exec.Opts{Env: envList(env)})
	if err != nil {
		return fmt.Errorf("juicefs format: %w", err)
	}
	if !result.Success() {
		return fmt.Errorf("juicefs format failed (exit %d): %s", result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return nil
}

// Mount mounts the filesystem at mountPoint in daemon mode.
func (j *JuiceFS) Mount(ctx context.Context, mountPoint string, env map[string]string) error {
	result, err := j.exec.Run(ctx, []string{"juicefs", "mount", "-d", env["JUICEFS_DSN"], mountPoint}, exec.Opts{Env: envList(env)})
	if err != nil {
		return fmt.Errorf("juicefs mount: %w", err)
	}
	if !result.Success() {
		return fmt.Errorf("juicefs mount failed (exit %d): %s", result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return nil
}

// Umount unmounts the filesystem at mountPoint.
func (j *JuiceFS) Umount(ctx context.Context, mountPoint string) error {
	result, err := j.exec.Run(ctx, []string{"juicefs", "umount", mountPoint}, exec.Opts{})
	if err != nil {
		return fmt.Errorf("juicefs umount: %w", err)
	}
	if !result.Success() {
		return fmt.Errorf("juicefs umount failed (exit %d): %s", result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return nil
}
