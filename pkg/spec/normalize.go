package spec

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// decodeVolumesInput accepts the two historical shapes of the persistence
// volumes field and normalizes both to the multi-scope form:
//
//	volumes:            # legacy V1 flat list, becomes environment scope
//	  - name: data
//	    ...
//
//	volumes:            # V2 multi-scope mapping
//	  global: [models]
//	  project: [cache]
//	  environment:
//	    - name: data
//	      ...
//
// The mapping form also accepts global_refs/project_refs as field names.
// Normalization happens only here, at the deserialization boundary; the rest
// of the package sees a single canonical shape.
func decodeVolumesInput(node *yaml.Node) (*MultiScopeVolumeSpec, error) {
	if node == nil || node.Kind == 0 || node.Tag == "!!null" {
		return nil, nil
	}

	switch node.Kind {
	case yaml.SequenceNode:
		var env []RcloneVolumeConfig
		if err := node.Decode(&env); err != nil {
			return nil, fmt.Errorf("invalid volume list: %w", err)
		}
		return &MultiScopeVolumeSpec{Environment: env}, nil

	case yaml.MappingNode:
		var r struct {
			Global      []string             `yaml:"global"`
			GlobalRefs  []string             `yaml:"global_refs"`
			Project     []string             `yaml:"project"`
			ProjectRefs []string             `yaml:"project_refs"`
			Environment []RcloneVolumeConfig `yaml:"environment"`
		}
		if err := node.Decode(&r); err != nil {
			return nil, fmt.Errorf("invalid multi-scope volumes: %w", err)
		}
		out := &MultiScopeVolumeSpec{
			GlobalRefs:  r.Global,
			ProjectRefs: r.Project,
			Environment: r.Environment,
		}
		if len(out.GlobalRefs) == 0 {
			out.GlobalRefs = r.GlobalRefs
		}
		if len(out.ProjectRefs) == 0 {
			out.ProjectRefs = r.ProjectRefs
		}
		return out, nil

	case yaml.AliasNode:
		return decodeVolumesInput(node.Alias)

	default:
		return nil, fmt.Errorf("volumes must be a list or a global/project/environment mapping, got %s", node.Tag)
	}
}
