// Package daemon implements the in-container sync loop for replicated
// persistence: it turns a workspace spec into a plan of rclone operations,
// runs them on their configured intervals, and tracks bisync state so
// bidirectional paths get their one-time --resync baseline.
package daemon

import (
	"sort"
	"strings"
	"time"

	"codespaces/pkg/spec"
)

// Action is one planned sync operation, fully resolved and ready to run.
type Action struct {
	Name       string
	LocalPath  string
	RemotePath string // full rclone target incl. remote name
	Direction  string
	Interval   time.Duration
	Priority   int
	Exclude    []string
}

// Plan is the ordered set of sync actions for one workspace. Actions are
// sorted by priority, lower first.
type Plan struct {
	Workspace string
	Actions   []Action
}

// IsEmpty reports whether the plan has no actions.
func (p Plan) IsEmpty() bool {
	return len(p.Actions) == 0
}

// MinInterval returns the shortest interval across all actions, defaulting
// to five minutes for an empty plan.
func (p Plan) MinInterval() time.Duration {
	min := 300 * time.Second
	for i, a := range p.Actions {
		if i == 0 || a.Interval < min {
			min = a.Interval
		}
	}
	return min
}

// FilterByNames keeps only the named actions. An empty filter keeps all.
func (p Plan) FilterByNames(names []string) Plan {
	if len(names) == 0 {
		return p
	}
	keep := make(map[string]bool, len(names))
	for _, n := range names {
		keep[n] = true
	}
	filtered := Plan{Workspace: p.Workspace}
	for _, a := range p.Actions {
		if keep[a.Name] {
			filtered.Actions = append(filtered.Actions, a)
		}
	}
	return filtered
}

// PlanOptions carries the remote resolution inputs.
type PlanOptions struct {
	// Bucket is the object-store bucket the remote paths live under.
	Bucket string

	// IntervalOverride replaces every action's interval when positive.
	IntervalOverride time.Duration
}

// BuildPlan converts a workspace spec into a sync plan. Both explicit sync
// paths and environment-scoped volume configs contribute actions; remote
// path templates have their {org}/{project}/{env} placeholders resolved from
// the spec metadata.
func BuildPlan(ws *spec.WorkspaceSpec, opts PlanOptions) Plan {
	plan := Plan{Workspace: ws.Name}
	if !ws.Persistence.Enabled || ws.Persistence.Mode != spec.ModeReplicated {
		return plan
	}

	remoteName := spec.DefaultRcloneConfig().RemoteName
	if ws.Persistence.RcloneConfig != nil && ws.Persistence.RcloneConfig.RemoteName != "" {
		remoteName = ws.Persistence.RcloneConfig.RemoteName
	}

	meta := ws.Metadata
	resolve := func(template string) string {
		r := strings.NewReplacer("{org}", meta.Org, "{project}", meta.Project, "{env}", meta.Environment)
		path := strings.TrimPrefix(r.Replace(template), "/")
		if opts.Bucket != "" {
			return remoteName + ":" + opts.Bucket + "/" + path
		}
		return remoteName + ":" + path
	}

	add := func(sp spec.SyncPath) {
		interval := time.Duration(sp.Interval) * time.Second
		if opts.IntervalOverride > 0 {
			interval = opts.IntervalOverride
		}
		plan.Actions = append(plan.Actions, Action{
			Name:       sp.Name,
			LocalPath:  sp.Path,
			RemotePath: resolve(sp.RemotePath),
			Direction:  sp.Direction,
			Interval:   interval,
			Priority:   sp.Priority,
			Exclude:    sp.Exclude,
		})
	}

	for _, sp := range ws.Persistence.Sync {
		add(sp)
	}
	if msv := ws.Persistence.MultiScopeVolumes; msv != nil {
		for i := range msv.Environment {
			add(msv.Environment[i].ToSyncPath())
		}
	}

	sort.SliceStable(plan.Actions, func(i, j int) bool {
		return plan.Actions[i].Priority < plan.Actions[j].Priority
	})
	return plan
}
