// Package storage manages persistent workspace storage: the mounted-mode
// JuiceFS mapping file, the fleet storage config, Docker volume lifecycle for
// replicated mode, and the host-side `up` flow that wires both into a
// devcontainer boot.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"codespaces/pkg/spec"
)

// MountMapping maps a logical mount to a bucket subpath.
type MountMapping struct {
	Name       string `yaml:"name"`
	Target     string `yaml:"target"`
	Source     string `yaml:"source"`
	Type       string `yaml:"type"` // symlink or bind
	BucketPath string `yaml:"bucket_path,omitempty"`
}

// UnmarshalYAML applies defaults before decoding.
func (m *MountMapping) UnmarshalYAML(value *yaml.Node) error {
	type raw MountMapping
	r := raw{Type: "symlink"}
	if err := value.Decode(&r); err != nil {
		return err
	}
	*m = MountMapping(r)
	return nil
}

func (m *MountMapping) validate() error {
	if !strings.HasPrefix(m.Target, "/") {
		return fmt.Errorf("mount target %q must be an absolute path", m.Target)
	}
	if m.Type != "symlink" && m.Type != "bind" {
		return fmt.Errorf("mount type %q must be symlink or bind", m.Type)
	}
	return nil
}

// WorkspaceStorageEntry is the per-workspace storage configuration, keyed in
// the mapping by org/project/env.
type WorkspaceStorageEntry struct {
	Org         string         `yaml:"org"`
	Project     string         `yaml:"project"`
	Env         string         `yaml:"env"`
	Scope       string         `yaml:"scope,omitempty"` // project or environment
	JuiceFSUUID string         `yaml:"juicefs_uuid,omitempty"`
	Mounts      []MountMapping `yaml:"mounts"`
}

// StorageMapping is the top-level persistence-mappings.yaml document used by
// mounted (JuiceFS) persistence.
type StorageMapping struct {
	Version        int                               `yaml:"version"`
	Bucket         string                            `yaml:"bucket"`
	Filesystem     string                            `yaml:"filesystem"`
	RootPrefix     string                            `yaml:"root_prefix"`
	MetadataDSNEnv string                            `yaml:"metadata_dsn_env"`
	S3EndpointEnv  string                            `yaml:"s3_endpoint_env,omitempty"`
	DefaultScope   string                            `yaml:"default_scope"`
	Workspaces     map[string]*WorkspaceStorageEntry `yaml:"workspaces"`
}

// UnmarshalYAML applies defaults before decoding.
func (s *StorageMapping) UnmarshalYAML(value *yaml.Node) error {
	type raw StorageMapping
	r := raw{Version: 1, RootPrefix: "workspaces", DefaultScope: "project"}
	if err := value.Decode(&r); err != nil {
		return err
	}
	*s = StorageMapping(r)
	return nil
}

// normalize validates the mapping and fills derived fields: bucket paths
// ({root_prefix}/{org}/{project}/{env}/{source}) and a stable JuiceFS UUID
// per workspace.
func (s *StorageMapping) normalize() error {
	if s.Bucket == "" {
		return fmt.Errorf("storage mapping requires a bucket")
	}
	if s.Filesystem == "" {
		return fmt.Errorf("storage mapping requires a filesystem name")
	}
	if s.MetadataDSNEnv == "" {
		return fmt.Errorf("storage mapping requires metadata_dsn_env")
	}
	if s.DefaultScope != "project" && s.DefaultScope != "environment" {
		return fmt.Errorf("default_scope %q must be project or environment", s.DefaultScope)
	}

	for key, entry := range s.Workspaces {
		if entry.Scope != "" && entry.Scope != "project" && entry.Scope != "environment" {
			return fmt.Errorf("workspace %s: scope %q must be project or environment", key, entry.Scope)
		}
		if entry.JuiceFSUUID == "" {
			entry.JuiceFSUUID = uuid.NewString()
		}
		for i := range entry.Mounts {
			m := &entry.Mounts[i]
			if err := m.validate(); err != nil {
				return fmt.Errorf("workspace %s: %w", key, err)
			}
			if m.BucketPath == "" {
				m.BucketPath = strings.Join([]string{
					strings.Trim(s.RootPrefix, "/"),
					entry.Org,
					entry.Project,
					entry.Env,
					m.Source,
				}, "/")
			}
		}
	}
	return nil
}

// LoadMapping reads and normalizes a persistence-mappings.yaml file.
func LoadMapping(path string) (*StorageMapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading storage mapping %s: %w", path, err)
	}
	var m StorageMapping
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing storage mapping %s: %w", path, err)
	}
	if err := m.normalize(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &m, nil
}

// ValidateMountsMatchSpec checks the mapping entry against the workspace's
// persistence mounts. The two are maintained separately, so drift in either
// direction is reported explicitly.
func ValidateMountsMatchSpec(workspacePath string, entry *WorkspaceStorageEntry) error {
	specPath := filepath.Join(workspacePath, ".devcontainer", "workspace-spec.yaml")
	ws, err := spec.Load(specPath)
	if err != nil {
		return err
	}

	type mountKey struct{ name, source, target, typ string }
	specMounts := make(map[mountKey]bool)
	for _, m := range ws.Persistence.Mounts {
		specMounts[mountKey{m.Name, m.Source, m.Target, m.Type}] = true
	}
	mapMounts := make(map[mountKey]bool)
	for _, m := range entry.Mounts {
		mapMounts[mountKey{m.Name, m.Source, m.Target, m.Type}] = true
	}

	var missing, extra []string
	for k := range specMounts {
		if !mapMounts[k] {
			missing = append(missing, k.name)
		}
	}
	for k := range mapMounts {
		if !specMounts[k] {
			extra = append(extra, k.name)
		}
	}
	if len(missing) == 0 && len(extra) == 0 {
		return nil
	}

	var details []string
	if len(missing) > 0 {
		details = append(details, fmt.Sprintf("missing in mapping: %s", strings.Join(sorted(missing), ", ")))
	}
	if len(extra) > 0 {
		details = append(details, fmt.Sprintf("extra in mapping: %s", strings.Join(sorted(extra), ", ")))
	}
	return fmt.Errorf("mounts mismatch between mapping and spec: %s", strings.Join(details, "; "))
}

// FindStorageConfig locates storage-config.yaml under the repo's nexus/
// directory, falling back to the repo root.
func FindStorageConfig(repoRoot string) string {
	for _, candidate := range []string{
		filepath.Join(repoRoot, "nexus", "storage-config.yaml"),
		filepath.Join(repoRoot, "storage-config.yaml"),
	} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}
