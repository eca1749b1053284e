// Package manifest tracks provisioned workspaces in codespaces/manifest.yaml.
//
// The manifest is the source of truth for desired fleet state: which
// environments exist per org and project, where they live on disk, and which
// asset repo each one wraps.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"codespaces/pkg/utils"
)

// CurrentVersion is the only manifest schema version this tool understands.
const CurrentVersion = 1

// EnvironmentEntry records one provisioned environment.
type EnvironmentEntry struct {
	Name          string `yaml:"name"`
	WorkspacePath string `yaml:"workspace_path"`
	AssetRepoURL  string `yaml:"asset_repo_url"`
	AssetBranch   string `yaml:"asset_branch"`
	ProjectType   string `yaml:"project_type"`
	CreatedAt     string `yaml:"created_at"`
}

// ProjectEntry groups the environments of one project plus project-level
// scaffold inputs.
type ProjectEntry struct {
	Config       map[string]any      `yaml:"config,omitempty"`
	Features     []string            `yaml:"features,omitempty"`
	Environments []*EnvironmentEntry `yaml:"environments"`
}

// Environment returns the named environment, or nil.
func (p *ProjectEntry) Environment(name string) *EnvironmentEntry {
	for _, env := range p.Environments {
		if env.Name == name {
			return env
		}
	}
	return nil
}

// OrgEntry groups the projects of one org. ProjectDir is the directory name
// under codespaces/ that holds the org's workspaces.
type OrgEntry struct {
	ProjectDir string                   `yaml:"project_dir"`
	Projects   map[string]*ProjectEntry `yaml:"projects"`

	projectOrder []string
}

// ProjectSlugs returns project slugs in the order they were first added (or
// first seen in the file). Entries added behind the accessor's back sort to
// the end.
func (o *OrgEntry) ProjectSlugs() []string {
	return orderedKeys(o.projectOrder, o.Projects)
}

// UnmarshalYAML records the mapping key order so a later Save round-trips the
// file without reshuffling projects.
func (o *OrgEntry) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		ProjectDir string    `yaml:"project_dir"`
		Projects   yaml.Node `yaml:"projects"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	o.ProjectDir = raw.ProjectDir
	o.Projects = map[string]*ProjectEntry{}
	o.projectOrder = nil
	if raw.Projects.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(raw.Projects.Content); i += 2 {
			project := &ProjectEntry{}
			if err := raw.Projects.Content[i+1].Decode(project); err != nil {
				return err
			}
			slug := raw.Projects.Content[i].Value
			o.Projects[slug] = project
			o.projectOrder = append(o.projectOrder, slug)
		}
	}
	return nil
}

// MarshalYAML emits projects in insertion order.
func (o *OrgEntry) MarshalYAML() (any, error) {
	projects := &yaml.Node{Kind: yaml.MappingNode}
	for _, slug := range o.ProjectSlugs() {
		val, err := encodeNode(o.Projects[slug])
		if err != nil {
			return nil, err
		}
		projects.Content = append(projects.Content, scalarNode(slug), val)
	}
	node := &yaml.Node{Kind: yaml.MappingNode}
	node.Content = append(node.Content,
		scalarNode("project_dir"), scalarNode(o.ProjectDir),
		scalarNode("projects"), projects)
	return node, nil
}

// Manifest is the parsed manifest document.
type Manifest struct {
	Version int                  `yaml:"version"`
	Orgs    map[string]*OrgEntry `yaml:"manifest"`

	orgOrder []string
}

// OrgSlugs returns org slugs in the order they were first added (or first
// seen in the file).
func (m *Manifest) OrgSlugs() []string {
	return orderedKeys(m.orgOrder, m.Orgs)
}

// UnmarshalYAML records the mapping key order of the manifest block.
func (m *Manifest) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Version int       `yaml:"version"`
		Orgs    yaml.Node `yaml:"manifest"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	m.Version = raw.Version
	m.Orgs = map[string]*OrgEntry{}
	m.orgOrder = nil
	if raw.Orgs.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(raw.Orgs.Content); i += 2 {
			org := &OrgEntry{}
			if err := raw.Orgs.Content[i+1].Decode(org); err != nil {
				return err
			}
			slug := raw.Orgs.Content[i].Value
			m.Orgs[slug] = org
			m.orgOrder = append(m.orgOrder, slug)
		}
	}
	return nil
}

// MarshalYAML emits orgs in insertion order.
func (m *Manifest) MarshalYAML() (any, error) {
	orgs := &yaml.Node{Kind: yaml.MappingNode}
	for _, slug := range m.OrgSlugs() {
		val, err := encodeNode(m.Orgs[slug])
		if err != nil {
			return nil, err
		}
		orgs.Content = append(orgs.Content, scalarNode(slug), val)
	}
	version, err := encodeNode(m.Version)
	if err != nil {
		return nil, err
	}
	node := &yaml.Node{Kind: yaml.MappingNode}
	node.Content = append(node.Content,
		scalarNode("version"), version,
		scalarNode("manifest"), orgs)
	return node, nil
}

func scalarNode(value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Value: value}
}

func encodeNode(v any) (*yaml.Node, error) {
	var node yaml.Node
	if err := node.Encode(v); err != nil {
		return nil, err
	}
	return &node, nil
}

// orderedKeys yields recorded keys that still exist in the map, then any
// remaining keys sorted.
func orderedKeys[V any](order []string, m map[string]V) []string {
	keys := make([]string, 0, len(m))
	seen := make(map[string]bool, len(m))
	for _, k := range order {
		if _, ok := m[k]; ok && !seen[k] {
			keys = append(keys, k)
			seen[k] = true
		}
	}
	var rest []string
	for k := range m {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}

// New returns an empty manifest at the current version.
func New() *Manifest {
	return &Manifest{Version: CurrentVersion, Orgs: map[string]*OrgEntry{}}
}

// Load reads and normalizes a manifest file. A missing file yields an empty
// manifest rather than an error so first provisioning works on a fresh tree.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest at %s: %w", path, err)
	}
	if m.Version != 0 && m.Version != CurrentVersion {
		return nil, fmt.Errorf("unsupported manifest version (%d), expected version %d at %s", m.Version, CurrentVersion, path)
	}
	m.Version = CurrentVersion
	if m.Orgs == nil {
		m.Orgs = map[string]*OrgEntry{}
	}
	return &m, nil
}

// Save writes the manifest, creating parent directories as needed. Orgs and
// projects are emitted in insertion order, and the file is replaced via a
// temp file plus rename so a crash mid-write never leaves a truncated
// manifest behind.
func Save(path string, m *Manifest) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating manifest directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".manifest-*.yaml")
	if err != nil {
		return fmt.Errorf("writing manifest %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	enc := yaml.NewEncoder(tmp)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		tmp.Close()
		return fmt.Errorf("encoding manifest: %w", err)
	}
	if err := enc.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("encoding manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing manifest %s: %w", path, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("writing manifest %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("writing manifest %s: %w", path, err)
	}
	return nil
}

// EnsureOrg returns the org entry, creating it (with a slugified project
// directory) if absent.
func (m *Manifest) EnsureOrg(orgSlug, projectDir string) *OrgEntry {
	org := m.Orgs[orgSlug]
	if org == nil {
		org = &OrgEntry{}
		m.Orgs[orgSlug] = org
		m.orgOrder = append(m.orgOrder, orgSlug)
	}
	if org.Projects == nil {
		org.Projects = map[string]*ProjectEntry{}
	}
	if org.ProjectDir == "" {
		org.ProjectDir = projectDir
	}
	return org
}

// EnsureProject returns the project entry within an org, creating it if
// absent.
func (o *OrgEntry) EnsureProject(projectSlug string) *ProjectEntry {
	project := o.Projects[projectSlug]
	if project == nil {
		project = &ProjectEntry{}
		o.Projects[projectSlug] = project
		o.projectOrder = append(o.projectOrder, projectSlug)
	}
	return project
}

// Entry is the flattened result of a manifest lookup.
type Entry struct {
	OrgSlug     string
	ProjectSlug string
	Org         *OrgEntry
	Project     *ProjectEntry
	Environment *EnvironmentEntry
}

// Find locates a workspace by path. The path is matched against the recorded
// workspace_path (relative to repoRoot) or against the predictable default
// location codespaces/{project_dir}/{env_name}.
func (m *Manifest) Find(workspacePath, repoRoot string) *Entry {
	relative := utils.RelativeTo(workspacePath, repoRoot)

	for orgSlug, org := range m.Orgs {
		projectDir := org.ProjectDir
		if projectDir == "" {
			projectDir = orgSlug
		}
		for projectSlug, project := range org.Projects {
			for _, env := range project.Environments {
				defaultPath := ""
				if env.Name != "" && projectDir != "" {
					defaultPath = "codespaces/" + projectDir + "/" + env.Name
				}
				if relative == env.WorkspacePath || (defaultPath != "" && relative == defaultPath) {
					return &Entry{
						OrgSlug:     orgSlug,
						ProjectSlug: projectSlug,
						Org:         org,
						Project:     project,
						Environment: env,
					}
				}
			}
		}
	}
	return nil
}

// FindByEnvironmentName locates a workspace by environment name alone. This
// is the fallback for workspaces outside the repo root; it is only safe when
// the name is unique across the whole manifest, so ambiguous matches return
// an error.
func (m *Manifest) FindByEnvironmentName(name string) (*Entry, error) {
	var found *Entry
	for orgSlug, org := range m.Orgs {
		for projectSlug, project := range org.Projects {
			for _, env := range project.Environments {
				if env.Name != name {
					continue
				}
				if found != nil {
					return nil, fmt.Errorf("environment name %q is ambiguous in manifest", name)
				}
				found = &Entry{
					OrgSlug:     orgSlug,
					ProjectSlug: projectSlug,
					Org:         org,
					Project:     project,
					Environment: env,
				}
			}
		}
	}
	return found, nil
}
