// Package spec defines the typed meta-spec for devcontainer workspaces.
//
// The goal is to describe every workspace in one structured document and then
// render devcontainer.json files, lifecycle scripts, and documentation from
// the same source of truth. The package owns validation of structural
// invariants, normalization of legacy persistence shapes, and deterministic
// rendering of the devcontainer descriptor.
package spec

import (
	"strings"

	"gopkg.in/yaml.v3"
)

// AllowedMountTypes are the devcontainer mount types accepted by MountSpec.
var AllowedMountTypes = map[string]bool{"bind": true, "volume": true, "tmpfs": true}

// Persistence modes.
const (
	ModeMounted    = "mounted"
	ModeReplicated = "replicated"
)

// Sync directions for replicated persistence.
const (
	SyncBidirectional = "bidirectional"
	SyncPullOnly      = "pull-only"
	SyncPushOnly      = "push-only"
)

// NetworkingSpec is the networking feature toggle and metadata.
type NetworkingSpec struct {
	Enabled        bool     `yaml:"enabled"`
	HostnamePrefix string   `yaml:"hostname_prefix"`
	Tags           []string `yaml:"tags"`
}

// UnmarshalYAML applies defaults before decoding.
func (n *NetworkingSpec) UnmarshalYAML(value *yaml.Node) error {
	type raw NetworkingSpec
	r := raw(defaultNetworkingSpec())
	if err := value.Decode(&r); err != nil {
		return err
	}
	*n = NetworkingSpec(r)
	return nil
}

func defaultNetworkingSpec() NetworkingSpec {
	return NetworkingSpec{
		HostnamePrefix: "dev-",
		Tags:           []string{"tag:devcontainer"},
	}
}

// PersistenceMount is the logical mapping of a storage subpath into the
// workspace (mounted mode).
type PersistenceMount struct {
	Name   string `yaml:"name"`
	Target string `yaml:"target"`
	Source string `yaml:"source"`
	Type   string `yaml:"type"` // symlink or bind
}

// UnmarshalYAML applies defaults before decoding.
func (m *PersistenceMount) UnmarshalYAML(value *yaml.Node) error {
	type raw PersistenceMount
	r := raw{Type: "symlink"}
	if err := value.Decode(&r); err != nil {
		return err
	}
	*m = PersistenceMount(r)
	return nil
}

// RcloneConfig configures the rclone remote backend (replicated mode).
// Option values may be ${ENV_VAR} placeholders resolved from the environment.
type RcloneConfig struct {
	RemoteName string            `yaml:"remote_name"`
	Type       string            `yaml:"type"`
	Options    map[string]string `yaml:"options,omitempty"`
}

// UnmarshalYAML applies defaults before decoding.
func (c *RcloneConfig) UnmarshalYAML(value *yaml.Node) error {
	type raw RcloneConfig
	r := raw(DefaultRcloneConfig())
	if err := value.Decode(&r); err != nil {
		return err
	}
	*c = RcloneConfig(r)
	return nil
}

// DefaultRcloneConfig returns the default remote configuration.
func DefaultRcloneConfig() RcloneConfig {
	return RcloneConfig{RemoteName: "r2fleet", Type: "s3"}
}

// SyncPath is a path to sync with rclone in replicated mode.
//
// This is a sync-only configuration: it does NOT create Docker volumes. The
// path must already exist in the container (via bind mount, volume, or being
// part of another mounted path like /home/vscode).
type SyncPath struct {
	Name       string   `yaml:"name"`
	Path       string   `yaml:"path"`
	RemotePath string   `yaml:"remote_path"` // supports {org}/{project}/{env} placeholders
	Direction  string   `yaml:"direction"`
	Interval   int      `yaml:"interval"` // seconds
	Priority   int      `yaml:"priority"` // 1=critical, 2=important, 3=nice-to-have
	Exclude    []string `yaml:"exclude,omitempty"`
}

// UnmarshalYAML applies defaults before decoding.
func (p *SyncPath) UnmarshalYAML(value *yaml.Node) error {
	type raw SyncPath
	r := raw{Direction: SyncBidirectional, Interval: 300, Priority: 2}
	if err := value.Decode(&r); err != nil {
		return err
	}
	*p = SyncPath(r)
	return nil
}

// RcloneVolumeConfig is a volume configuration for replicated persistence.
//
// Deprecated: use SyncPath for sync configuration and devcontainer.mounts for
// volume configuration separately. This model conflates the two concerns; it
// is retained because existing workspace specs still carry it.
type RcloneVolumeConfig struct {
	Name       string   `yaml:"name"`
	RemotePath string   `yaml:"remote_path"` // supports {org}/{project}/{env} placeholders
	MountPath  string   `yaml:"mount_path"`
	Sync       string   `yaml:"sync"`
	Interval   int      `yaml:"interval"`
	Priority   int      `yaml:"priority"`
	Exclude    []string `yaml:"exclude,omitempty"`
	ReadOnly   bool     `yaml:"read_only,omitempty"`
}

// UnmarshalYAML applies defaults before decoding.
func (v *RcloneVolumeConfig) UnmarshalYAML(value *yaml.Node) error {
	type raw RcloneVolumeConfig
	r := raw{Sync: SyncBidirectional, Interval: 300, Priority: 2}
	if err := value.Decode(&r); err != nil {
		return err
	}
	*v = RcloneVolumeConfig(r)
	return nil
}

// ToSyncPath converts the deprecated volume config into the sync-only form.
// Conversion happens at the point of access, not at validation time, so the
// original data round-trips unchanged.
func (v *RcloneVolumeConfig) ToSyncPath() SyncPath {
	return SyncPath{
		Name:       v.Name,
		Path:       v.MountPath,
		RemotePath: v.RemotePath,
		Direction:  v.Sync,
		Interval:   v.Interval,
		Priority:   v.Priority,
		Exclude:    v.Exclude,
	}
}

// MultiScopeVolumeSpec holds volume references for multi-scope persistence.
//
// Global and project volumes are referenced by name (defined in
// storage-config.yaml). Environment volumes are defined inline.
type MultiScopeVolumeSpec struct {
	GlobalRefs  []string             `yaml:"global,omitempty"`
	ProjectRefs []string             `yaml:"project,omitempty"`
	Environment []RcloneVolumeConfig `yaml:"environment,omitempty"`
}

// PersistenceSpec is the persistence feature toggle and mount definitions.
//
// Two modes are supported:
//   - mounted: network filesystem via a Docker volume plugin (legacy)
//   - replicated: local volumes with periodic rclone sync
//
// For replicated mode, volumes can be specified as a multi-scope mapping with
// global/project/environment keys (V2) or a flat list of volume configs
// (legacy V1, normalized to environment scope). V3 sync paths are preferred
// and carry no volume-creation semantics.
type PersistenceSpec struct {
	Enabled bool   `yaml:"enabled"`
	Mode    string `yaml:"mode"`

	// Legacy fields (mounted mode).
	Scope  string             `yaml:"scope"` // project or environment
	Mounts []PersistenceMount `yaml:"mounts,omitempty"`

	// Replicated mode.
	RcloneConfig *RcloneConfig `yaml:"rclone_config,omitempty"`
	Sync         []SyncPath    `yaml:"sync,omitempty"`

	// V2 multi-scope volumes, also accepts the legacy V1 flat list.
	MultiScopeVolumes *MultiScopeVolumeSpec `yaml:"volumes,omitempty"`
}

// UnmarshalYAML applies defaults and normalizes the legacy volumes shape.
func (p *PersistenceSpec) UnmarshalYAML(value *yaml.Node) error {
	type raw struct {
		Enabled           bool               `yaml:"enabled"`
		Mode              string             `yaml:"mode"`
		Scope             string             `yaml:"scope"`
		Mounts            []PersistenceMount `yaml:"mounts"`
		RcloneConfig      *RcloneConfig      `yaml:"rclone_config"`
		Sync              []SyncPath         `yaml:"sync"`
		MultiScopeVolumes *yaml.Node         `yaml:"volumes"`
	}
	r := raw{Mode: ModeMounted, Scope: "project"}
	if err := value.Decode(&r); err != nil {
		return err
	}

	volumes, err := decodeVolumesInput(r.MultiScopeVolumes)
	if err != nil {
		return err
	}

	*p = PersistenceSpec{
		Enabled:           r.Enabled,
		Mode:              r.Mode,
		Scope:             r.Scope,
		Mounts:            r.Mounts,
		RcloneConfig:      r.RcloneConfig,
		Sync:              r.Sync,
		MultiScopeVolumes: volumes,
	}
	return nil
}

// Volumes returns all environment-scoped volumes (backward compatibility).
func (p *PersistenceSpec) Volumes() []RcloneVolumeConfig {
	if p.MultiScopeVolumes != nil {
		return p.MultiScopeVolumes.Environment
	}
	return nil
}

// GetAllVolumeRefs returns the full multi-scope volume specification.
func (p *PersistenceSpec) GetAllVolumeRefs() MultiScopeVolumeSpec {
	if p.MultiScopeVolumes != nil {
		return *p.MultiScopeVolumes
	}
	return MultiScopeVolumeSpec{}
}

// GetSyncPaths returns the sync path configuration for replicated mode.
// The sync field is preferred; environment-scoped volume configs are
// converted lazily for backward compatibility.
func (p *PersistenceSpec) GetSyncPaths() []SyncPath {
	if len(p.Sync) > 0 {
		return p.Sync
	}
	if p.MultiScopeVolumes != nil && len(p.MultiScopeVolumes.Environment) > 0 {
		paths := make([]SyncPath, 0, len(p.MultiScopeVolumes.Environment))
		for i := range p.MultiScopeVolumes.Environment {
			paths = append(paths, p.MultiScopeVolumes.Environment[i].ToSyncPath())
		}
		return paths
	}
	return nil
}

// ImageRef references a pre-built devcontainer image.
type ImageRef struct {
	Name   string `yaml:"name"`   // OCI reference incl. registry and tag
	Digest string `yaml:"digest,omitempty"` // optional digest pin for reproducible pulls
}

// FeatureRef is an optional devcontainer feature override.
type FeatureRef struct {
	ID      string         `yaml:"id"`
	Options map[string]any `yaml:"options,omitempty"`
}

// MountSpec is a volume or bind mount to add to the container.
type MountSpec struct {
	Source string `yaml:"source"`
	Target string `yaml:"target"`
	Type   string `yaml:"type"`
	Extra  string `yaml:"extra,omitempty"` // additional docker mount options
}

// UnmarshalYAML applies defaults before decoding.
func (m *MountSpec) UnmarshalYAML(value *yaml.Node) error {
	type raw MountSpec
	r := raw{Type: "volume"}
	if err := value.Decode(&r); err != nil {
		return err
	}
	*m = MountSpec(r)
	return nil
}

// AsDevcontainerString flattens the mount into the canonical
// source=...,target=...,type=...[,extra] form.
func (m *MountSpec) AsDevcontainerString() string {
	s := "source=" + m.Source + ",target=" + m.Target + ",type=" + m.Type
	if m.Extra != "" {
		s += "," + m.Extra
	}
	return s
}

// SecretMount is a declarative secret reference for post-create hooks.
type SecretMount struct {
	Provider  string `yaml:"provider"` // secret backend identifier
	Key       string `yaml:"key"`      // logical secret name
	MountPath string `yaml:"mount_path"`
	ReadOnly  bool   `yaml:"read_only"`
}

// UnmarshalYAML applies defaults before decoding.
func (s *SecretMount) UnmarshalYAML(value *yaml.Node) error {
	type raw SecretMount
	r := raw{ReadOnly: true}
	if err := value.Decode(&r); err != nil {
		return err
	}
	*s = SecretMount(r)
	return nil
}

// EditorExtensions lists editor extensions to install.
type EditorExtensions struct {
	Recommended []string `yaml:"recommended,omitempty"`
	Optional    []string `yaml:"optional,omitempty"`
}

// EditorSettings wraps the settings map so additional metadata can be added
// without breaking the document shape.
type EditorSettings struct {
	Values map[string]any `yaml:"values,omitempty"`
}

// EditorCustomization groups editor extension and settings overrides.
type EditorCustomization struct {
	Extensions EditorExtensions `yaml:"extensions"`
	Settings   EditorSettings   `yaml:"settings"`
}

// LifecycleHooks holds post-create/post-start command lists. Blank entries
// are stripped during decoding.
type LifecycleHooks struct {
	PostCreate []string `yaml:"post_create,omitempty"`
	PostStart  []string `yaml:"post_start,omitempty"`
}

// UnmarshalYAML strips blank commands.
func (h *LifecycleHooks) UnmarshalYAML(value *yaml.Node) error {
	type raw LifecycleHooks
	var r raw
	if err := value.Decode(&r); err != nil {
		return err
	}
	h.PostCreate = stripBlank(r.PostCreate)
	h.PostStart = stripBlank(r.PostStart)
	return nil
}

// TemplateRef points to a devcontainer template file within the repo.
type TemplateRef struct {
	Name     string   `yaml:"name"`     // logical template name
	Path     string   `yaml:"path"`     // relative path to the template source
	Overlays []string `yaml:"overlays,omitempty"` // optional overlays applied on top
}

// DevcontainerSpec is the full description of a devcontainer that can be
// rendered from templates.
type DevcontainerSpec struct {
	Template        TemplateRef         `yaml:"template"`
	Image           ImageRef            `yaml:"image"`
	Features        []FeatureRef        `yaml:"features,omitempty"`
	User            string              `yaml:"user"`
	WorkspaceFolder string              `yaml:"workspace_folder"`
	WorkspaceMount  string              `yaml:"workspace_mount,omitempty"` // optional override
	Mounts          []MountSpec         `yaml:"mounts,omitempty"`
	RunArgs         []string            `yaml:"run_args,omitempty"`
	Env             map[string]string   `yaml:"env,omitempty"`
	Lifecycle       LifecycleHooks      `yaml:"lifecycle"`
	Customizations  EditorCustomization `yaml:"customizations"`
}

// UnmarshalYAML applies defaults before decoding.
func (d *DevcontainerSpec) UnmarshalYAML(value *yaml.Node) error {
	type raw DevcontainerSpec
	r := raw{User: "vscode", WorkspaceFolder: "/workspace"}
	if err := value.Decode(&r); err != nil {
		return err
	}
	*d = DevcontainerSpec(r)
	return nil
}

// WorkspaceMetadata identifies the workspace within the fleet.
type WorkspaceMetadata struct {
	Org         string   `yaml:"org"`
	Project     string   `yaml:"project"`
	Environment string   `yaml:"environment"`
	Description string   `yaml:"description,omitempty"`
	Tags        []string `yaml:"tags,omitempty"`
}

// UnmarshalYAML applies defaults before decoding.
func (m *WorkspaceMetadata) UnmarshalYAML(value *yaml.Node) error {
	type raw WorkspaceMetadata
	r := raw{Environment: "dev"}
	if err := value.Decode(&r); err != nil {
		return err
	}
	*m = WorkspaceMetadata(r)
	return nil
}

// WorkspaceSpec is the top-level description of a workspace definition.
type WorkspaceSpec struct {
	Name         string            `yaml:"name"`
	Version      string            `yaml:"version"`
	Metadata     WorkspaceMetadata `yaml:"metadata"`
	Devcontainer DevcontainerSpec  `yaml:"devcontainer"`

	// Host mounts that scripts/provisioners should honor.
	Mounts      []MountSpec     `yaml:"mounts,omitempty"`
	Secrets     []SecretMount   `yaml:"secrets,omitempty"`
	Networking  NetworkingSpec  `yaml:"networking"`
	Persistence PersistenceSpec `yaml:"persistence"`
	GeneratedAt string          `yaml:"generated_at"`
}

// UnmarshalYAML applies defaults before decoding.
func (w *WorkspaceSpec) UnmarshalYAML(value *yaml.Node) error {
	type raw WorkspaceSpec
	r := raw{
		Version:     "1.0.0",
		Metadata:    WorkspaceMetadata{Environment: "dev"},
		Networking:  defaultNetworkingSpec(),
		Persistence: PersistenceSpec{Mode: ModeMounted, Scope: "project"},
	}
	if err := value.Decode(&r); err != nil {
		return err
	}
	*w = WorkspaceSpec(r)
	return nil
}

// SpecBundle is a collection of workspace specs versioned together.
type SpecBundle struct {
	SchemaVersion string          `yaml:"schema_version"`
	Workspaces    []WorkspaceSpec `yaml:"workspaces"`
}

func stripBlank(cmds []string) []string {
	out := make([]string, 0, len(cmds))
	for _, cmd := range cmds {
		if strings.TrimSpace(cmd) != "" {
			out = append(out, cmd)
		}
	}
	return out
}
