package storage

import (
	"fmt"
	"sort"
	"strings"

	"codespaces/pkg/spec"
)

// DefaultBucket is used for replicated-mode rclone remotes when the workspace
// does not name one.
const DefaultBucket = "coltec-codespaces-data"

// Getenv abstracts environment lookup so the resolution fallbacks can be
// tested without mutating the process environment.
type Getenv func(string) string

// ResolveStorageEnv builds the JuiceFS environment for a mapping, applying
// the compatibility fallbacks accumulated over time: the metadata DSN may
// live under JUICEFS_METADATA_URI, postgres DSNs may carry the long scheme,
// and S3 credentials may be set under CF_ or JUICEFS_ prefixed names.
func ResolveStorageEnv(m *StorageMapping, getenv Getenv) (map[string]string, error) {
	env := map[string]string{}

	dsn := getenv(m.MetadataDSNEnv)
	if dsn == "" {
		dsn = getenv("JUICEFS_METADATA_URI")
	}
	if strings.HasPrefix(dsn, "postgresql://") {
		dsn = "postgres://" + strings.TrimPrefix(dsn, "postgresql://")
	}
	env["JUICEFS_DSN"] = dsn

	env["S3_ACCESS_KEY_ID"] = firstOf(getenv, "S3_ACCESS_KEY_ID", "CF_S3_ACCESS_KEY_ID", "JUICEFS_ACCESS_KEY_ID")
	env["S3_SECRET_ACCESS_KEY"] = firstOf(getenv, "S3_SECRET_ACCESS_KEY", "CF_S3_SECRET_ACCESS_KEY", "JUICEFS_SECRET_ACCESS_KEY")

	endpoint := ""
	if m.S3EndpointEnv != "" {
		endpoint = getenv(m.S3EndpointEnv)
	}
	if endpoint == "" {
		endpoint = firstOf(getenv, "JUICEFS_S3_ENDPOINT", "CF_S3_ENDPOINT")
	}
	env["JUICEFS_S3_ENDPOINT"] = endpoint
	env["JUICEFS_BUCKET"] = m.Bucket

	var missing []string
	for _, key := range []string{"JUICEFS_DSN", "S3_ACCESS_KEY_ID", "S3_SECRET_ACCESS_KEY", "JUICEFS_S3_ENDPOINT"} {
		if env[key] == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", "))
	}
	return env, nil
}

// RequiredEnvVars returns the host env vars a workspace needs before
// `devcontainer up` can succeed, based on which modes are enabled.
func RequiredEnvVars(ws *spec.WorkspaceSpec) []string {
	var required []string
	if ws.Networking.Enabled {
		required = append(required, "TAILSCALE_AUTH_KEY")
	}
	if ws.Persistence.Enabled {
		required = append(required,
			"S3_ACCESS_KEY_ID",
			"S3_SECRET_ACCESS_KEY",
			"JUICEFS_S3_ENDPOINT",
			"JUICEFS_BUCKET",
		)
		if ws.Persistence.Mode == spec.ModeMounted {
			required = append(required, "JUICEFS_METADATA_URI")
		}
	}
	return required
}

// CheckRequiredEnvVars fails with the full list of absent vars so the
// operator can fix them in one pass.
func CheckRequiredEnvVars(ws *spec.WorkspaceSpec, getenv Getenv) error {
	var missing []string
	for _, key := range RequiredEnvVars(ws) {
		if getenv(key) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", "))
	}
	return nil
}

func firstOf(getenv Getenv, keys ...string) string {
	for _, key := range keys {
		if v := getenv(key); v != "" {
			return v
		}
	}
	return ""
}

func sorted(items []string) []string {
	out := append([]string(nil), items...)
	sort.Strings(out)
	return out
}

func sortedMapKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
