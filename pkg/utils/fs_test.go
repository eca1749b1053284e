package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteFileWithDirs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a", "b", "c.txt")

	if err := WriteFileWithDirs(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteFileWithDirs failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(content) != "hello" {
		t.Errorf("Expected 'hello', got %q", content)
	}
}

func TestMarkExecutable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "script.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if err := MarkExecutable(path); err != nil {
		t.Fatalf("MarkExecutable failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Mode()&0o111 == 0 {
		t.Error("Expected executable bits to be set")
	}
}

func TestIsShellScript(t *testing.T) {
	cases := map[string]bool{
		"scripts/post-create.sh":  true,
		"scripts/setup.bash":      true,
		"README.md":               false,
		".devcontainer/spec.yaml": false,
	}
	for path, want := range cases {
		if got := IsShellScript(path); got != want {
			t.Errorf("IsShellScript(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestRelativeTo(t *testing.T) {
	if got := RelativeTo("/repo/codespaces/acme/dev-1", "/repo"); got != "codespaces/acme/dev-1" {
		t.Errorf("Expected repo-relative path, got %q", got)
	}
	if got := RelativeTo("/elsewhere/ws", "/repo"); got != "/elsewhere/ws" {
		t.Errorf("Expected absolute fallback, got %q", got)
	}
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Acme Corp":  "acme-corp",
		"my_project": "my_project",
		"Weird!@#":   "weird",
		"   ":        "project",
	}
	for in, want := range cases {
		if got := Slugify(in); got != want {
			t.Errorf("Slugify(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDedupe(t *testing.T) {
	got := Dedupe([]string{"a", "b", "a", "c", "b"})
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected %v, got %v", want, got)
			break
		}
	}
}
