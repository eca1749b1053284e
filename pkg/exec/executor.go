// Package exec provides command execution abstractions for the external tools
// the fleet tooling orchestrates (git, gh, docker, rclone, juicefs, and the
// devcontainer CLI). All process invocation flows through the Executor
// interface so workflows can be tested against a recording stub.
package exec

import (
	"context"
	"time"
)

// Executor defines the interface for executing external commands.
type Executor interface {
	// Run executes a command with the given options and returns the result.
	// A non-zero exit code is reported via Result.ExitCode, not the error;
	// the error is reserved for failures to start the process at all.
	Run(ctx context.Context, cmd []string, opts Opts) (Result, error)

	// Name returns the executor name for logging/debugging.
	Name() string

	// Available returns true if this executor can be used in the current environment.
	Available() bool
}

// Opts contains options for command execution.
type Opts struct {
	// Env contains environment variables (KEY=VALUE format). When set, the
	// process environment is inherited and these entries are appended.
	Env []string

	// WorkDir is the working directory for the command.
	WorkDir string

	// Timeout is the maximum duration for command execution. Zero means no
	// timeout; provisioning and update flows run external tools unbounded.
	Timeout time.Duration

	// Stream mirrors the child's stdout/stderr to the parent's, in addition
	// to capturing them. Used for long-running tools like `devcontainer up`.
	Stream bool
}

// Result contains the result of command execution.
type Result struct {
	// Stdout contains the captured standard output.
	Stdout string

	// Stderr contains the captured standard error output.
	Stderr string

	// ExecutorUsed indicates which executor ran the command.
	ExecutorUsed string

	// Duration is how long the command took to execute.
	Duration time.Duration

	// ExitCode is the exit code of the command.
	ExitCode int
}

// Success returns true when the command exited zero.
func (r Result) Success() bool {
	return r.ExitCode == 0
}
