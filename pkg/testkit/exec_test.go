package testkit

import (
	"context"
	"testing"

	"codespaces/pkg/exec"
)

func TestScriptedResponsePrefixMatch(t *testing.T) {
	stub := NewRecordingExec()
	stub.Script([]string{"git"}, Response{Stdout: "generic"})
	stub.Script([]string{"git", "status"}, Response{Stdout: "clean", ExitCode: 0})

	result, err := stub.Run(context.Background(), []string{"git", "status", "--short"}, exec.Opts{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Stdout != "clean" {
		t.Errorf("later registration should win, got %q", result.Stdout)
	}

	result, _ = stub.Run(context.Background(), []string{"git", "log"}, exec.Opts{})
	if result.Stdout != "generic" {
		t.Errorf("expected fallback to shorter prefix, got %q", result.Stdout)
	}
}

func TestUnscriptedCommandsSucceed(t *testing.T) {
	stub := NewRecordingExec()

	result, err := stub.Run(context.Background(), []string{"docker", "ps"}, exec.Opts{WorkDir: "/tmp"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ExitCode != 0 || result.Stdout != "" {
		t.Errorf("unscripted command should succeed empty, got %+v", result)
	}

	calls := stub.CallsMatching("docker")
	if len(calls) != 1 || calls[0].WorkDir != "/tmp" {
		t.Errorf("call not recorded with workdir: %+v", calls)
	}
}
