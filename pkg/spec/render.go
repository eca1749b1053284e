package spec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var envPlaceholderRe = regexp.MustCompile(`^\$\{([A-Z0-9_]+)\}$`)

// baseSecretVars are always exported to the container as host placeholders so
// lifecycle hooks can pick them up without literal values ever landing in a
// rendered file.
var baseSecretVars = []string{
	"TAILSCALE_AUTH_KEY",
	"JUICEFS_DSN",
	"JUICEFS_BUCKET",
	"S3_ACCESS_KEY_ID",
	"S3_SECRET_ACCESS_KEY",
	"JUICEFS_S3_ENDPOINT",
}

// toDevcontainerMap flattens the devcontainer spec into the devcontainer.json
// document shape. Empty values are elided so the document stays minimal.
func (d *DevcontainerSpec) toDevcontainerMap() map[string]any {
	payload := map[string]any{
		"name":            d.Template.Name,
		"image":           d.Image.Name,
		"remoteUser":      d.User,
		"workspaceFolder": d.WorkspaceFolder,
	}

	if len(d.Mounts) > 0 {
		mounts := make([]string, 0, len(d.Mounts))
		for i := range d.Mounts {
			mounts = append(mounts, d.Mounts[i].AsDevcontainerString())
		}
		payload["mounts"] = mounts
	}
	if len(d.RunArgs) > 0 {
		payload["runArgs"] = d.RunArgs
	}
	if len(d.Features) > 0 {
		features := make(map[string]any, len(d.Features))
		for i := range d.Features {
			opts := d.Features[i].Options
			if opts == nil {
				opts = map[string]any{}
			}
			features[d.Features[i].ID] = opts
		}
		payload["features"] = features
	}
	if len(d.Lifecycle.PostCreate) > 0 {
		payload["postCreateCommand"] = strings.Join(d.Lifecycle.PostCreate, " && ")
	}
	if len(d.Lifecycle.PostStart) > 0 {
		payload["postStartCommand"] = strings.Join(d.Lifecycle.PostStart, " && ")
	}

	vscode := map[string]any{}
	if len(d.Customizations.Extensions.Recommended) > 0 || len(d.Customizations.Extensions.Optional) > 0 {
		vscode["extensions"] = d.Customizations.Extensions.Recommended
	}
	if len(d.Customizations.Settings.Values) > 0 {
		vscode["settings"] = d.Customizations.Settings.Values
	}
	if len(vscode) > 0 {
		payload["customizations"] = map[string]any{"vscode": vscode}
	}

	if d.WorkspaceMount != "" {
		payload["workspaceMount"] = d.WorkspaceMount
	}
	if len(d.Env) > 0 {
		env := make(map[string]string, len(d.Env))
		for k, v := range d.Env {
			env[k] = v
		}
		payload["containerEnv"] = env
	}

	for k, v := range payload {
		if s, ok := v.(string); ok && s == "" {
			delete(payload, k)
		}
	}
	return payload
}

// RenderDevcontainer produces the complete devcontainer.json document for the
// workspace. Mounts declared at the workspace level are appended after the
// devcontainer's own mounts, workspace identity and feature toggles are
// injected into containerEnv, and secrets become ${localEnv:VAR} placeholders
// that the devcontainer runtime resolves from the host at start time.
//
// Sync configuration never creates Docker volumes here: persistence.sync only
// tells the sync daemon what to back up. Volumes are declared explicitly in
// devcontainer.mounts.
func (w *WorkspaceSpec) RenderDevcontainer() map[string]any {
	merged := w.Devcontainer
	if len(w.Mounts) > 0 {
		mounts := make([]MountSpec, 0, len(merged.Mounts)+len(w.Mounts))
		mounts = append(mounts, merged.Mounts...)
		mounts = append(mounts, w.Mounts...)
		merged.Mounts = mounts
	}

	payload := merged.toDevcontainerMap()
	payload["name"] = w.Name

	env, _ := payload["containerEnv"].(map[string]string)
	if env == nil {
		env = map[string]string{}
		payload["containerEnv"] = env
	}
	env["WORKSPACE_NAME"] = w.Name
	env["WORKSPACE_ORG"] = w.Metadata.Org
	env["WORKSPACE_PROJECT"] = w.Metadata.Project
	env["WORKSPACE_ENV"] = w.Metadata.Environment
	env["NETWORKING_ENABLED"] = strconv.FormatBool(w.Networking.Enabled)
	env["PERSISTENCE_ENABLED"] = strconv.FormatBool(w.Persistence.Enabled)
	env["PERSISTENCE_MODE"] = w.Persistence.Mode
	env["PERSISTENCE_SCOPE"] = w.Persistence.Scope

	if w.Persistence.Mode == ModeReplicated && w.Persistence.RcloneConfig != nil {
		env["RCLONE_REMOTE_NAME"] = w.Persistence.RcloneConfig.RemoteName
	}

	for _, v := range w.secretVars() {
		env[v] = fmt.Sprintf("${localEnv:%s}", v)
	}

	// User-declared env wins over anything injected above.
	for k, v := range merged.Env {
		env[k] = v
	}

	if w.Devcontainer.Image.Digest != "" {
		build, _ := payload["build"].(map[string]any)
		if build == nil {
			build = map[string]any{}
			payload["build"] = build
		}
		build["args"] = map[string]any{"BASE_DIGEST": w.Devcontainer.Image.Digest}
	}
	return payload
}

// secretVars returns the ordered, deduplicated list of host environment
// variables to surface in the container. The fixed set is extended with
// RCLONE_BUCKET for replicated persistence and with any ${VAR} placeholders
// referenced by the rclone remote options.
func (w *WorkspaceSpec) secretVars() []string {
	vars := make([]string, 0, len(baseSecretVars)+4)
	seen := make(map[string]bool, len(baseSecretVars)+4)
	add := func(v string) {
		if !seen[v] {
			seen[v] = true
			vars = append(vars, v)
		}
	}
	for _, v := range baseSecretVars {
		add(v)
	}
	if w.Persistence.Mode == ModeReplicated {
		add("RCLONE_BUCKET")
	}
	if w.Persistence.RcloneConfig != nil {
		for _, value := range sortedValues(w.Persistence.RcloneConfig.Options) {
			if m := envPlaceholderRe.FindStringSubmatch(value); m != nil {
				add(m[1])
			}
		}
	}
	return vars
}

// sortedValues walks map values in key order so placeholder discovery is
// stable across renders.
func sortedValues(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}

// DevcontainerJSON renders the devcontainer document as deterministic JSON:
// sorted keys, two-space indent, trailing newline. Re-rendering an unchanged
// spec yields byte-identical output, which keeps provisioned workspaces
// diff-clean.
func (w *WorkspaceSpec) DevcontainerJSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(w.RenderDevcontainer()); err != nil {
		return nil, fmt.Errorf("encoding devcontainer.json: %w", err)
	}
	return buf.Bytes(), nil
}
