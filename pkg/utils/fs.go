// Package utils provides small filesystem and identifier helpers shared across
// the fleet tooling.
package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// WriteFileWithDirs writes content to path, creating parent directories.
func WriteFileWithDirs(path string, content []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create parent directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, content, perm); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// IsShellScript reports whether a path looks like a shell script by extension.
func IsShellScript(path string) bool {
	ext := filepath.Ext(path)
	return ext == ".sh" || ext == ".bash"
}

// MarkExecutable adds the executable bits to an existing file's mode.
func MarkExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if err := os.Chmod(path, info.Mode()|0o111); err != nil {
		return fmt.Errorf("failed to mark %s executable: %w", path, err)
	}
	return nil
}

// RelativeTo returns path made relative to root with forward slashes when
// path is inside root; otherwise it returns path unchanged. Manifest entries
// store repo-relative workspace paths, falling back to absolute ones.
func RelativeTo(path, root string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return filepath.ToSlash(rel)
}
