package spec

import (
	"fmt"
	"strings"
)

// Validate checks structural invariants of the workspace spec. It returns the
// first violation found so error messages stay actionable.
func (w *WorkspaceSpec) Validate() error {
	if strings.TrimSpace(w.Name) == "" {
		return fmt.Errorf("workspace name must not be empty")
	}
	if strings.ContainsAny(w.Name, " \t\n") {
		return fmt.Errorf("workspace name %q must not contain whitespace", w.Name)
	}
	if err := w.Devcontainer.validate(); err != nil {
		return err
	}
	for i := range w.Mounts {
		if err := w.Mounts[i].validate(); err != nil {
			return fmt.Errorf("mounts[%d]: %w", i, err)
		}
	}
	for i := range w.Secrets {
		if err := w.Secrets[i].validate(); err != nil {
			return fmt.Errorf("secrets[%d]: %w", i, err)
		}
	}
	if err := w.validateMountTargets(); err != nil {
		return err
	}
	if err := w.Networking.validate(); err != nil {
		return err
	}
	return w.Persistence.Validate()
}

// validateMountTargets rejects duplicate mount targets across the
// devcontainer mounts and the top-level host mounts. Two mounts landing on
// the same container path shadow each other silently at runtime, so fail
// early instead.
func (w *WorkspaceSpec) validateMountTargets() error {
	seen := make(map[string]bool)
	check := func(target string) error {
		if seen[target] {
			return fmt.Errorf("duplicate mount target %q", target)
		}
		seen[target] = true
		return nil
	}
	for i := range w.Devcontainer.Mounts {
		if err := check(w.Devcontainer.Mounts[i].Target); err != nil {
			return err
		}
	}
	for i := range w.Mounts {
		if err := check(w.Mounts[i].Target); err != nil {
			return err
		}
	}
	return nil
}

func (d *DevcontainerSpec) validate() error {
	if d.Image.Name == "" && d.Template.Path == "" {
		return fmt.Errorf("devcontainer requires an image name or a template path")
	}
	if d.Image.Name != "" && !strings.Contains(d.Image.Name, ":") {
		return fmt.Errorf("image name must include a tag, e.g. ghcr.io/acme/app:1.0-base-net")
	}
	if err := d.Template.validate(); err != nil {
		return err
	}
	if !strings.HasPrefix(d.WorkspaceFolder, "/") {
		return fmt.Errorf("workspace_folder must be an absolute path")
	}
	for i := range d.Features {
		if d.Features[i].ID == "" {
			return fmt.Errorf("features[%d]: feature id must not be empty", i)
		}
	}
	for i := range d.Mounts {
		if err := d.Mounts[i].validate(); err != nil {
			return fmt.Errorf("devcontainer.mounts[%d]: %w", i, err)
		}
	}
	return nil
}

func (t *TemplateRef) validate() error {
	if strings.HasPrefix(t.Path, "/") {
		return fmt.Errorf("template path must be relative to the repo root")
	}
	for _, overlay := range t.Overlays {
		if strings.HasPrefix(overlay, "/") {
			return fmt.Errorf("overlay paths must be relative")
		}
	}
	return nil
}

func (m *MountSpec) validate() error {
	if m.Source == "" {
		return fmt.Errorf("mount source must not be empty")
	}
	if m.Target == "" {
		return fmt.Errorf("mount target must not be empty")
	}
	if !AllowedMountTypes[m.Type] {
		return fmt.Errorf("mount type %q is not one of bind, volume, tmpfs", m.Type)
	}
	if !strings.HasPrefix(m.Target, "/") {
		return fmt.Errorf("mount target must be an absolute path inside the container")
	}
	return nil
}

func (s *SecretMount) validate() error {
	if s.Provider == "" {
		return fmt.Errorf("secret provider must not be empty")
	}
	if s.Key == "" {
		return fmt.Errorf("secret key must not be empty")
	}
	if s.MountPath == "" {
		return fmt.Errorf("secret mount_path must not be empty")
	}
	if !strings.HasPrefix(s.MountPath, "/") {
		return fmt.Errorf("secret mount_path must be absolute")
	}
	return nil
}

func (n *NetworkingSpec) validate() error {
	if n.Enabled && strings.TrimSpace(n.HostnamePrefix) == "" {
		return fmt.Errorf("networking requires a hostname_prefix when enabled")
	}
	return nil
}

// Validate checks the persistence configuration. Disabled persistence is
// always valid regardless of what the other fields contain.
func (p *PersistenceSpec) Validate() error {
	if !p.Enabled {
		return nil
	}

	switch p.Mode {
	case ModeMounted:
		if len(p.Mounts) == 0 {
			return fmt.Errorf("mounted mode requires at least one mount in 'mounts' field")
		}
		if p.Scope != "project" && p.Scope != "environment" {
			return fmt.Errorf("persistence scope %q must be project or environment", p.Scope)
		}
		for i := range p.Mounts {
			if err := p.Mounts[i].validate(); err != nil {
				return fmt.Errorf("persistence.mounts[%d]: %w", i, err)
			}
		}
	case ModeReplicated:
		hasVolumes := p.MultiScopeVolumes != nil &&
			(len(p.MultiScopeVolumes.GlobalRefs) > 0 ||
				len(p.MultiScopeVolumes.ProjectRefs) > 0 ||
				len(p.MultiScopeVolumes.Environment) > 0)
		if len(p.Sync) == 0 && !hasVolumes {
			return fmt.Errorf("replicated mode requires at least one entry in 'sync' or 'volumes' field")
		}
		seen := make(map[string]bool)
		for i := range p.Sync {
			if err := p.Sync[i].validate(); err != nil {
				return fmt.Errorf("persistence.sync[%d]: %w", i, err)
			}
			if seen[p.Sync[i].Name] {
				return fmt.Errorf("duplicate sync path name %q", p.Sync[i].Name)
			}
			seen[p.Sync[i].Name] = true
		}
		if p.MultiScopeVolumes != nil {
			for i := range p.MultiScopeVolumes.Environment {
				if err := p.MultiScopeVolumes.Environment[i].validate(); err != nil {
					return fmt.Errorf("persistence.volumes.environment[%d]: %w", i, err)
				}
			}
		}
	default:
		return fmt.Errorf("persistence mode %q must be mounted or replicated", p.Mode)
	}
	return nil
}

func (m *PersistenceMount) validate() error {
	if m.Name == "" {
		return fmt.Errorf("persistence mount name must not be empty")
	}
	if !strings.HasPrefix(m.Target, "/") {
		return fmt.Errorf("persistence mount target must be an absolute path")
	}
	if m.Type != "symlink" && m.Type != "bind" {
		return fmt.Errorf("persistence mount type %q must be symlink or bind", m.Type)
	}
	return nil
}

func validSyncDirection(d string) bool {
	switch d {
	case SyncBidirectional, SyncPullOnly, SyncPushOnly:
		return true
	}
	return false
}

func (p *SyncPath) validate() error {
	if p.Name == "" {
		return fmt.Errorf("sync path name must not be empty")
	}
	if p.Path == "" {
		return fmt.Errorf("sync path %q requires a container path", p.Name)
	}
	if !strings.HasPrefix(p.Path, "/") {
		return fmt.Errorf("sync path %q path must be an absolute path", p.Name)
	}
	if !validSyncDirection(p.Direction) {
		return fmt.Errorf("sync path %q direction %q must be bidirectional, pull-only, or push-only", p.Name, p.Direction)
	}
	if p.Interval <= 0 {
		return fmt.Errorf("sync path %q interval must be positive", p.Name)
	}
	if p.Priority < 1 || p.Priority > 3 {
		return fmt.Errorf("sync path %q priority must be between 1 and 3", p.Name)
	}
	return nil
}

func (v *RcloneVolumeConfig) validate() error {
	if v.Name == "" {
		return fmt.Errorf("volume name must not be empty")
	}
	if v.MountPath == "" {
		return fmt.Errorf("volume %q requires a mount_path", v.Name)
	}
	if !strings.HasPrefix(v.MountPath, "/") {
		return fmt.Errorf("volume %q mount_path must be an absolute path", v.Name)
	}
	if !validSyncDirection(v.Sync) {
		return fmt.Errorf("volume %q sync %q must be bidirectional, pull-only, or push-only", v.Name, v.Sync)
	}
	if v.Interval <= 0 {
		return fmt.Errorf("volume %q interval must be positive", v.Name)
	}
	if v.Priority < 1 || v.Priority > 3 {
		return fmt.Errorf("volume %q priority must be between 1 and 3", v.Name)
	}
	return nil
}

// Validate checks the bundle and every workspace in it.
func (b *SpecBundle) Validate() error {
	if b.SchemaVersion == "" {
		return fmt.Errorf("bundle schema_version must not be empty")
	}
	seen := make(map[string]bool)
	for i := range b.Workspaces {
		w := &b.Workspaces[i]
		if err := w.Validate(); err != nil {
			return fmt.Errorf("workspaces[%d] (%s): %w", i, w.Name, err)
		}
		if seen[w.Name] {
			return fmt.Errorf("duplicate workspace name %q in bundle", w.Name)
		}
		seen[w.Name] = true
	}
	return nil
}
