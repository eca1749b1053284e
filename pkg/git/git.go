// Package git wraps the git CLI operations used to initialize and maintain
// workspace repositories.
package git

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"codespaces/pkg/exec"
	"codespaces/pkg/logx"
)

// Client runs git commands through an Executor so callers can substitute a
// recording stub in tests.
type Client struct {
	exec   exec.Executor
	logger *logx.Logger
}

// NewClient creates a git client backed by the given executor.
func NewClient(executor exec.Executor) *Client {
	return &Client{
		exec:   executor,
		logger: logx.NewLogger("git"),
	}
}

func (c *Client) run(ctx context.Context, dir string, args ...string) (exec.Result, error) {
	cmd := append([]string{"git"}, args...)
	c.logger.Debug("$ %s (cwd=%s)", strings.Join(cmd, " "), dir)

	result, err := c.exec.Run(ctx, cmd, exec.Opts{WorkDir: dir})
	if err != nil {
		return result, fmt.Errorf("git %s: %w", args[0], err)
	}
	if !result.Success() {
		return result, fmt.Errorf("git %s failed (exit %d): %s", args[0], result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return result, nil
}

// Init initializes a new repository in dir.
func (c *Client) Init(ctx context.Context, dir string) error {
	_, err := c.run(ctx, dir, "init")
	return err
}

// AddSubmodule adds a branch-pinned submodule at path. The file protocol is
// explicitly allowed because local asset repos are added by path and recent
// git versions reject file:// submodules by default.
func (c *Client) AddSubmodule(ctx context.Context, dir, url, path, branch string) error {
	_, err := c.run(ctx, dir,
		"-c", "protocol.file.allow=always",
		"submodule", "add", "-b", branch, url, path)
	return err
}

// PinSubmoduleBranch records the submodule branch in .gitmodules and in the
// local repo config so later syncs track the same branch.
func (c *Client) PinSubmoduleBranch(ctx context.Context, dir, name, branch string) error {
	key := fmt.Sprintf("submodule.%s.branch", name)
	if _, err := c.run(ctx, dir, "config", "-f", ".gitmodules", key, branch); err != nil {
		return err
	}
	_, err := c.run(ctx, dir, "config", key, branch)
	return err
}

// AddAll stages every change in dir.
func (c *Client) AddAll(ctx context.Context, dir string) error {
	_, err := c.run(ctx, dir, "add", ".")
	return err
}

// Commit creates a commit with the given message.
func (c *Client) Commit(ctx context.Context, dir, message string) error {
	_, err := c.run(ctx, dir, "commit", "-m", message)
	return err
}

// RemoteURL returns the origin remote URL of the repository at dir.
func (c *Client) RemoteURL(ctx context.Context, dir string) (string, error) {
	result, err := c.run(ctx, dir, "remote", "get-url", "origin")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(result.Stdout), nil
}

// IsGitURL reports whether s already looks like a git remote URL.
func IsGitURL(s string) bool {
	return strings.HasPrefix(s, "git@") ||
		strings.HasPrefix(s, "https://") ||
		strings.HasPrefix(s, "http://")
}

// ResolveOptions controls what happens when a local asset path has no .git
// directory. With Force set the directory is bootstrapped into a fresh repo
// unconditionally; otherwise Confirm, when non-nil, is asked first.
type ResolveOptions struct {
	Force   bool
	Confirm func(path string) bool
}

// ResolveAssetURL turns the asset input into a repo URL. Remote URLs pass
// through. Local paths must be git repos; their origin remote wins when set,
// otherwise the path is addressed with the file protocol.
func (c *Client) ResolveAssetURL(ctx context.Context, input string) (string, error) {
	return c.ResolveAssetURLWithOptions(ctx, input, ResolveOptions{})
}

// ResolveAssetURLWithOptions is ResolveAssetURL plus opt-in bootstrapping of
// plain local directories into fresh git repositories.
func (c *Client) ResolveAssetURLWithOptions(ctx context.Context, input string, opts ResolveOptions) (string, error) {
	if IsGitURL(input) {
		return input, nil
	}

	path, err := filepath.Abs(expandHome(input))
	if err != nil {
		return "", fmt.Errorf("resolving asset path %s: %w", input, err)
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("local path %s does not exist", path)
	}
	if _, err := os.Stat(filepath.Join(path, ".git")); err != nil {
		if !opts.Force && (opts.Confirm == nil || !opts.Confirm(path)) {
			return "", fmt.Errorf("%s is not a git repo (no .git directory)", path)
		}
		if err := c.BootstrapRepo(ctx, path); err != nil {
			return "", err
		}
		return "file://" + path, nil
	}

	if url, err := c.RemoteURL(ctx, path); err == nil && url != "" {
		return url, nil
	}
	return "file://" + path, nil
}

// BootstrapRepo turns a plain directory into a git repository with a single
// commit holding its current contents.
func (c *Client) BootstrapRepo(ctx context.Context, dir string) error {
	c.logger.Info("Bootstrapping %s into a git repository", dir)
	if err := c.Init(ctx, dir); err != nil {
		return err
	}
	if err := c.AddAll(ctx, dir); err != nil {
		return err
	}
	return c.Commit(ctx, dir, "Initial commit")
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
