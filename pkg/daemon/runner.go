package daemon

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"codespaces/pkg/exec"
	"codespaces/pkg/logx"
	"codespaces/pkg/spec"
)

// Runner executes individual sync actions via rclone and records their
// outcomes in the state store and metrics.
type Runner struct {
	exec    exec.Executor
	store   *Store
	metrics *Metrics
	logger  *logx.Logger

	// DryRun passes --dry-run to rclone and skips state updates.
	DryRun bool

	// Now is the clock, overridable in tests.
	Now func() time.Time
}

// NewRunner creates a Runner. The metrics argument may be nil when no
// listener is configured.
func NewRunner(executor exec.Executor, store *Store, metrics *Metrics) *Runner {
	return &Runner{
		exec:    executor,
		store:   store,
		metrics: metrics,
		logger:  logx.NewLogger("sync"),
		Now:     time.Now,
	}
}

// syncCommand builds the rclone invocation for an action.
func syncCommand(action Action, resync, dryRun bool) ([]string, error) {
	var cmd []string
	switch action.Direction {
	case spec.SyncBidirectional:
		cmd = []string{"rclone", "bisync", action.LocalPath, action.RemotePath,
			"--resilient", "--recover", "--max-lock", "2m"}
		if resync {
			cmd = append(cmd, "--resync")
		}
	case spec.SyncPushOnly:
		cmd = []string{"rclone", "sync", action.LocalPath, action.RemotePath}
	case spec.SyncPullOnly:
		cmd = []string{"rclone", "sync", action.RemotePath, action.LocalPath}
	default:
		return nil, fmt.Errorf("unknown sync direction %q for %s", action.Direction, action.Name)
	}
	for _, pattern := range action.Exclude {
		cmd = append(cmd, "--exclude", pattern)
	}
	cmd = append(cmd, "--fast-list", "--transfers", "8", "--checkers", "16")
	if dryRun {
		cmd = append(cmd, "--dry-run")
	}
	return cmd, nil
}

// recoverable reports rclone failures that resolve themselves on a later
// pass, like a remote directory that does not exist yet.
func recoverable(stderr string) bool {
	return strings.Contains(stderr, "directory not found") ||
		strings.Contains(stderr, "does not exist")
}

// SyncOne runs a single action to completion. A missing local path is a
// skip, not a failure; the path may appear once the workspace warms up.
func (r *Runner) SyncOne(ctx context.Context, workspace string, action Action) error {
	if _, err := os.Stat(action.LocalPath); err != nil {
		r.logger.Warn("Local path %s missing for %s, skipping", action.LocalPath, action.Name)
		return nil
	}

	resync := false
	if action.Direction == spec.SyncBidirectional {
		needs, err := r.store.NeedsResync(action.Name)
		if err != nil {
			return err
		}
		resync = needs
	}

	cmd, err := syncCommand(action, resync, r.DryRun)
	if err != nil {
		return err
	}

	r.logger.Info("Syncing %s (%s)", action.Name, action.Direction)
	start := r.Now()
	result, runErr := r.exec.Run(ctx, cmd, exec.Opts{})
	duration := r.Now().Sub(start)

	success := runErr == nil && (result.Success() || recoverable(result.Stderr))
	if r.DryRun {
		return nil
	}

	if success {
		if err := r.store.RecordSuccess(action.Name, r.Now()); err != nil {
			r.logger.Warn("Failed to record sync state for %s: %v", action.Name, err)
		}
		if resync {
			if err := r.store.MarkInitialized(action.Name); err != nil {
				r.logger.Warn("Failed to mark bisync baseline for %s: %v", action.Name, err)
			}
		}
	} else {
		if err := r.store.RecordFailure(action.Name); err != nil {
			r.logger.Warn("Failed to record sync failure for %s: %v", action.Name, err)
		}
	}

	streak, _ := r.store.ErrorCount(action.Name)
	if r.metrics != nil {
		r.metrics.ObserveSync(workspace, action.Name, action.Direction, success, streak, duration)
	}

	if runErr != nil {
		return fmt.Errorf("rclone: %w", runErr)
	}
	if !success {
		return fmt.Errorf("sync %s failed (exit %d): %s", action.Name, result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return nil
}
