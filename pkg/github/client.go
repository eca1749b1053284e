// Package github provides the GitHub operations used during provisioning,
// implemented via the gh CLI. All operations run on the host since they are
// pure API calls.
package github

import (
	"context"
	"fmt"
	"strings"

	"codespaces/pkg/exec"
	"codespaces/pkg/logx"
)

// Client runs gh commands through an Executor.
type Client struct {
	exec   exec.Executor
	logger *logx.Logger
}

// NewClient creates a GitHub client backed by the given executor.
func NewClient(executor exec.Executor) *Client {
	return &Client{
		exec:   executor,
		logger: logx.NewLogger("github"),
	}
}

// Available reports whether the gh CLI is installed and runnable.
func (c *Client) Available(ctx context.Context) bool {
	result, err := c.exec.Run(ctx, []string{"gh", "--version"}, exec.Opts{})
	return err == nil && result.Success()
}

// RepoName resolves the remote repository name from the provisioning inputs.
// An explicit name containing a slash is already fully qualified; otherwise
// the gh org (when given) is prepended. With no explicit name, the
// environment name is used.
func RepoName(environmentName, ghOrg, ghName string) string {
	target := ghName
	if target == "" {
		target = environmentName
	}
	if strings.Contains(target, "/") {
		return target
	}
	if ghOrg != "" {
		return ghOrg + "/" + target
	}
	return target
}

// CreateRepo creates a private repository from the local repo at dir and
// pushes it as origin.
func (c *Client) CreateRepo(ctx context.Context, dir, repoName string) error {
	c.logger.Info("Creating remote GitHub repo %s...", repoName)

	cmd := []string{"gh", "repo", "create", repoName, "--private", "--source=.", "--remote=origin", "--push"}
	result, err := c.exec.Run(ctx, cmd, exec.Opts{WorkDir: dir})
	if err != nil {
		return fmt.Errorf("gh repo create: %w", err)
	}
	if !result.Success() {
		return fmt.Errorf("gh repo create failed (exit %d): %s", result.ExitCode, strings.TrimSpace(result.Stderr))
	}

	c.logger.Info("Pushed to https://github.com/%s", repoName)
	return nil
}
