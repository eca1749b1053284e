package spec

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// StorageConfig is the fleet-wide storage configuration
// (nexus/storage-config.yaml).
//
// It defines the rclone remote and the shared volumes at global and project
// scope. Environment-scoped volumes are defined inline in each
// workspace-spec.yaml.
type StorageConfig struct {
	Version       int                             `yaml:"version"`
	RcloneConfig  RcloneConfig                    `yaml:"rclone"`
	GlobalVolumes []RcloneVolumeConfig            `yaml:"global"`
	Projects      map[string][]RcloneVolumeConfig `yaml:"projects"`
	Exclude       []string                        `yaml:"exclude"`
}

// UnmarshalYAML applies defaults and accepts global_volumes as an alternate
// field name for the global volume list.
func (c *StorageConfig) UnmarshalYAML(value *yaml.Node) error {
	type raw struct {
		Version       *int                            `yaml:"version"`
		Rclone        *RcloneConfig                   `yaml:"rclone"`
		Global        []RcloneVolumeConfig            `yaml:"global"`
		GlobalVolumes []RcloneVolumeConfig            `yaml:"global_volumes"`
		Projects      map[string][]RcloneVolumeConfig `yaml:"projects"`
		Exclude       []string                        `yaml:"exclude"`
	}
	var r raw
	if err := value.Decode(&r); err != nil {
		return err
	}
	c.Version = 2
	if r.Version != nil {
		c.Version = *r.Version
	}
	c.RcloneConfig = DefaultRcloneConfig()
	if r.Rclone != nil {
		c.RcloneConfig = *r.Rclone
	}
	c.GlobalVolumes = r.Global
	if len(c.GlobalVolumes) == 0 {
		c.GlobalVolumes = r.GlobalVolumes
	}
	c.Projects = r.Projects
	c.Exclude = r.Exclude
	return nil
}

// Validate enforces that global volumes are shared read-only artifacts: they
// must be pull-only and mounted read-only, otherwise one environment could
// push changes that every other workspace silently pulls.
func (c *StorageConfig) Validate() error {
	for i := range c.GlobalVolumes {
		vol := &c.GlobalVolumes[i]
		if err := vol.validate(); err != nil {
			return fmt.Errorf("global volume: %w", err)
		}
		if vol.Sync != SyncPullOnly {
			return fmt.Errorf("global volume %q must have sync=pull-only (got %q)", vol.Name, vol.Sync)
		}
		if !vol.ReadOnly {
			return fmt.Errorf("global volume %q must have read_only=true", vol.Name)
		}
	}
	for project, vols := range c.Projects {
		for i := range vols {
			if err := vols[i].validate(); err != nil {
				return fmt.Errorf("project %q volume: %w", project, err)
			}
		}
	}
	return nil
}

// GetProjectVolumes returns the volumes configured for a project slug.
func (c *StorageConfig) GetProjectVolumes(project string) []RcloneVolumeConfig {
	return c.Projects[project]
}

// ResolveVolume resolves a volume reference by name and scope. Project scope
// requires the project slug; unknown references resolve to nil.
func (c *StorageConfig) ResolveVolume(name, scope, project string) *RcloneVolumeConfig {
	switch scope {
	case "global":
		for i := range c.GlobalVolumes {
			if c.GlobalVolumes[i].Name == name {
				return &c.GlobalVolumes[i]
			}
		}
	case "project":
		if project == "" {
			return nil
		}
		vols := c.GetProjectVolumes(project)
		for i := range vols {
			if vols[i].Name == name {
				return &vols[i]
			}
		}
	}
	return nil
}

// ParseStorageConfig decodes and validates a storage config document.
func ParseStorageConfig(data []byte) (*StorageConfig, error) {
	var c StorageConfig
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing storage config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid storage config: %w", err)
	}
	return &c, nil
}

// LoadStorageConfig reads and validates a storage config from a YAML file.
func LoadStorageConfig(path string) (*StorageConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading storage config %s: %w", path, err)
	}
	c, err := ParseStorageConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}
