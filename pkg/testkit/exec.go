// Package testkit provides testing utilities shared across workflow tests:
// a scripted Executor stub so provisioning, update, and storage flows can be
// exercised without git, docker, or rclone installed.
package testkit

import (
	"context"
	"strings"
	"sync"

	"codespaces/pkg/exec"
)

// Call records one command dispatched through the stub executor.
type Call struct {
	Cmd     []string
	WorkDir string
	Env     []string
}

// Response is the scripted result for commands matching a prefix.
type Response struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
}

// RecordingExec implements exec.Executor with scripted responses.
// Commands with no matching script succeed with empty output.
type RecordingExec struct {
	mu      sync.Mutex
	calls   []Call
	scripts []scriptEntry
}

type scriptEntry struct {
	prefix   []string
	response Response
}

// NewRecordingExec creates an executor stub with no scripted responses.
func NewRecordingExec() *RecordingExec {
	return &RecordingExec{}
}

// Script registers a response for any command whose leading arguments match
// prefix. Later registrations take precedence over earlier ones.
func (r *RecordingExec) Script(prefix []string, response Response) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scripts = append(r.scripts, scriptEntry{prefix: prefix, response: response})
}

// Name returns the executor name.
func (r *RecordingExec) Name() string {
	return "recording"
}

// Available always returns true.
func (r *RecordingExec) Available() bool {
	return true
}

// Run records the call and returns the scripted response, if any.
func (r *RecordingExec) Run(_ context.Context, cmd []string, opts exec.Opts) (exec.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, Call{Cmd: append([]string(nil), cmd...), WorkDir: opts.WorkDir, Env: opts.Env})

	for i := len(r.scripts) - 1; i >= 0; i-- {
		if matchesPrefix(cmd, r.scripts[i].prefix) {
			resp := r.scripts[i].response
			return exec.Result{
				Stdout:       resp.Stdout,
				Stderr:       resp.Stderr,
				ExitCode:     resp.ExitCode,
				ExecutorUsed: r.Name(),
			}, resp.Err
		}
	}

	return exec.Result{ExecutorUsed: r.Name()}, nil
}

// Calls returns a copy of all recorded calls.
func (r *RecordingExec) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// CallsMatching returns recorded calls whose leading arguments match prefix.
func (r *RecordingExec) CallsMatching(prefix ...string) []Call {
	var matched []Call
	for _, call := range r.Calls() {
		if matchesPrefix(call.Cmd, prefix) {
			matched = append(matched, call)
		}
	}
	return matched
}

// CommandLines renders every recorded call as a single space-joined string,
// which keeps assertions on argument presence readable.
func (r *RecordingExec) CommandLines() []string {
	calls := r.Calls()
	lines := make([]string, 0, len(calls))
	for _, call := range calls {
		lines = append(lines, strings.Join(call.Cmd, " "))
	}
	return lines
}

func matchesPrefix(cmd, prefix []string) bool {
	if len(prefix) > len(cmd) {
		return false
	}
	for i, p := range prefix {
		if cmd[i] != p {
			return false
		}
	}
	return true
}
