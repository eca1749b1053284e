// Command codespaces is the fleet CLI: it renders devcontainer artifacts
// from workspace specs, provisions and reconciles workspaces, checks their
// structural health, and boots them with persistent storage attached.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"gopkg.in/yaml.v3"

	"codespaces/pkg/exec"
	"codespaces/pkg/logx"
	"codespaces/pkg/manifest"
	"codespaces/pkg/provision"
	"codespaces/pkg/secrets"
	"codespaces/pkg/spec"
	"codespaces/pkg/storage"
	"codespaces/pkg/validate"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := os.Args[1]
	var err error
	switch cmd {
	case "render":
		err = cmdRender(os.Args[2:])
	case "validate":
		err = cmdValidate(os.Args[2:])
	case "list":
		err = cmdList(os.Args[2:])
	case "provision":
		err = cmdProvision(ctx, os.Args[2:])
	case "update":
		err = cmdUpdate(ctx, os.Args[2:])
	case "check":
		err = cmdCheck(ctx, os.Args[2:])
	case "up":
		err = cmdUp(ctx, os.Args[2:])
	case "storage":
		err = cmdStorage(os.Args[2:])
	case "secrets":
		err = cmdSecrets(os.Args[2:])
	case "version", "--version":
		fmt.Printf("codespaces %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, fatalLine(cmd, err))
		os.Exit(1)
	}
}

// fatalLine prefixes a fatal error with the subcommand it came from so fleet
// scripts driving several subcommands can tell the failures apart.
func fatalLine(cmd string, err error) string {
	return fmt.Sprintf("[%s] Error: %v", cmd, err)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `codespaces - devcontainer workspace fleet tooling

Usage:
  codespaces render <spec> [--workspace NAME] [-o FILE] [--format json|yaml] [--indent N] [--print-meta]
  codespaces validate <spec>
  codespaces list <spec>
  codespaces provision --org ORG --project PROJECT --env ENV --asset URL [options]
  codespaces update (--workspace PATH | --all) [--dry-run] [--repo-root DIR]
  codespaces check <workspace-path> [--repo-root DIR]
  codespaces up <target> [--rebuild] [--repo-root DIR]
  codespaces storage (validate <workspace-path>|show) [--mapping PATH] [--repo-root DIR]
  codespaces secrets (init|set NAME [VALUE]|unlock)
  codespaces version
`)
}

// loadSpecObject reads a spec file, classifying it as a single workspace or
// a bundle by the presence of a top-level "workspaces" key.
func loadSpecObject(path string) (*spec.WorkspaceSpec, *spec.SpecBundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading spec: %w", err)
	}
	var probe map[string]any
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return nil, nil, fmt.Errorf("parsing spec: %w", err)
	}
	if len(probe) == 0 {
		return nil, nil, fmt.Errorf("spec file %s is empty", path)
	}
	if _, ok := probe["workspaces"]; ok {
		bundle, err := spec.ParseBundle(data)
		if err != nil {
			return nil, nil, err
		}
		return nil, bundle, nil
	}
	ws, err := spec.Parse(data)
	if err != nil {
		return nil, nil, err
	}
	return ws, nil, nil
}

// selectWorkspace picks the target workspace from whatever loadSpecObject
// returned, enforcing that bundles always name their target.
func selectWorkspace(ws *spec.WorkspaceSpec, bundle *spec.SpecBundle, name string) (*spec.WorkspaceSpec, error) {
	if ws != nil {
		if name != "" && name != ws.Name {
			return nil, fmt.Errorf("spec describes workspace %q, but --workspace %s was provided", ws.Name, name)
		}
		return ws, nil
	}
	if name == "" {
		return nil, fmt.Errorf("multiple workspaces defined; specify --workspace <name>")
	}
	for i := range bundle.Workspaces {
		if bundle.Workspaces[i].Name == name {
			return &bundle.Workspaces[i], nil
		}
	}
	return nil, fmt.Errorf("workspace %q not found in bundle", name)
}

func cmdRender(args []string) error {
	fs := flag.NewFlagSet("render", flag.ExitOnError)
	workspace := fs.String("workspace", "", "Workspace name (required for bundles)")
	output := fs.String("o", "", "Output path (default: stdout)")
	fs.StringVar(output, "output", *output, "Output path (default: stdout)")
	format := fs.String("format", "json", "Serialization format: json or yaml")
	indent := fs.Int("indent", 2, "Indent level for JSON output")
	printMeta := fs.Bool("print-meta", false, "Print workspace metadata after rendering")
	specPath, err := parsePositional(fs, args, "spec path")
	if err != nil {
		return err
	}

	ws, bundle, err := loadSpecObject(specPath)
	if err != nil {
		return err
	}
	target, err := selectWorkspace(ws, bundle, *workspace)
	if err != nil {
		return err
	}
	if err := target.Validate(); err != nil {
		return err
	}

	payload := target.RenderDevcontainer()
	var rendered []byte
	switch *format {
	case "json":
		rendered, err = json.MarshalIndent(payload, "", strings.Repeat(" ", *indent))
		if err != nil {
			return fmt.Errorf("serializing devcontainer: %w", err)
		}
		rendered = append(rendered, '\n')
	case "yaml":
		rendered, err = yaml.Marshal(payload)
		if err != nil {
			return fmt.Errorf("serializing devcontainer: %w", err)
		}
	default:
		return fmt.Errorf("unsupported format: %s", *format)
	}

	if *output != "" {
		if err := os.MkdirAll(filepath.Dir(*output), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(*output, rendered, 0o644); err != nil {
			return err
		}
		fmt.Printf("Wrote devcontainer to %s\n", *output)
	} else {
		os.Stdout.Write(rendered)
	}

	if *printMeta {
		meta := target.Metadata
		fmt.Println("\n[workspace-metadata]")
		fmt.Printf("name: %s\n", target.Name)
		fmt.Printf("version: %s\n", target.Version)
		fmt.Printf("org: %s\n", meta.Org)
		fmt.Printf("project: %s\n", meta.Project)
		fmt.Printf("environment: %s\n", meta.Environment)
		if len(meta.Tags) > 0 {
			fmt.Printf("tags: %s\n", strings.Join(meta.Tags, ", "))
		}
	}
	return nil
}

func cmdValidate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	specPath, err := parsePositional(fs, args, "spec path")
	if err != nil {
		return err
	}

	ws, bundle, err := loadSpecObject(specPath)
	if err != nil {
		return err
	}
	if ws != nil {
		if err := ws.Validate(); err != nil {
			return err
		}
		fmt.Printf("Workspace %q validated successfully\n", ws.Name)
		return nil
	}
	if err := bundle.Validate(); err != nil {
		return err
	}
	names := make([]string, 0, len(bundle.Workspaces))
	for i := range bundle.Workspaces {
		names = append(names, bundle.Workspaces[i].Name)
	}
	fmt.Printf("Validated bundle with workspaces: %s\n", strings.Join(names, ", "))
	return nil
}

func cmdList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	specPath, err := parsePositional(fs, args, "spec path")
	if err != nil {
		return err
	}

	ws, bundle, err := loadSpecObject(specPath)
	if err != nil {
		return err
	}
	if ws != nil {
		fmt.Println(ws.Name)
		return nil
	}
	for i := range bundle.Workspaces {
		fmt.Println(bundle.Workspaces[i].Name)
	}
	return nil
}

// confirmBootstrap asks on the terminal before a plain local asset dir is
// initialized as a git repository.
func confirmBootstrap(path string) bool {
	fmt.Fprintf(os.Stderr, "%s is not a git repository. Initialize it with an initial commit? [y/N] ", path)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func cmdProvision(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("provision", flag.ExitOnError)
	var opts provision.Options
	var overlays stringList
	fs.StringVar(&opts.RepoRoot, "repo-root", ".", "Fleet repository root")
	fs.StringVar(&opts.OrgSlug, "org", "", "Organization slug")
	fs.StringVar(&opts.ProjectSlug, "project", "", "Project slug")
	fs.StringVar(&opts.EnvironmentName, "env", "", "Environment name (e.g. dev-1)")
	fs.StringVar(&opts.AssetInput, "asset", "", "Asset repo: git URL or local path")
	fs.StringVar(&opts.ProjectType, "type", "other", "Project type (python, go, node, other)")
	fs.StringVar(&opts.AssetBranch, "branch", "", "Asset branch to pin (default: main)")
	fs.BoolVar(&opts.CreateRemote, "create-remote", false, "Create a GitHub remote for the workspace")
	fs.BoolVar(&opts.ForceBootstrap, "force-bootstrap", false, "Initialize a local asset dir without .git as a fresh repo without asking")
	fs.StringVar(&opts.GHOrg, "gh-org", "", "GitHub org for the remote")
	fs.StringVar(&opts.GHName, "gh-name", "", "GitHub repo name for the remote")
	fs.Var(&overlays, "overlay", "Extra template root (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	opts.Overlays = overlays

	if opts.OrgSlug == "" || opts.ProjectSlug == "" || opts.EnvironmentName == "" || opts.AssetInput == "" {
		return fmt.Errorf("provision requires --org, --project, --env, and --asset")
	}
	abs, err := filepath.Abs(opts.RepoRoot)
	if err != nil {
		return err
	}
	opts.RepoRoot = abs

	if err := initLogFile(opts.RepoRoot); err != nil {
		return err
	}
	defer logx.CloseLogFile()

	opts.ConfirmBootstrap = confirmBootstrap

	p := provision.New(exec.NewLocalExec())
	workspacePath, err := p.Provision(ctx, opts)
	if err != nil {
		return err
	}
	fmt.Printf("Provisioned workspace at %s\n", workspacePath)
	return nil
}

func cmdUpdate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("update", flag.ExitOnError)
	var opts provision.UpdateOptions
	all := fs.Bool("all", false, "Update every workspace in the manifest")
	fs.StringVar(&opts.WorkspacePath, "workspace", "", "Workspace path to update")
	fs.StringVar(&opts.RepoRoot, "repo-root", ".", "Fleet repository root")
	fs.BoolVar(&opts.DryRun, "dry-run", false, "Report pending changes without applying")
	if err := fs.Parse(args); err != nil {
		return err
	}
	abs, err := filepath.Abs(opts.RepoRoot)
	if err != nil {
		return err
	}
	opts.RepoRoot = abs
	if err := initLogFile(opts.RepoRoot); err != nil {
		return err
	}
	defer logx.CloseLogFile()

	p := provision.New(exec.NewLocalExec())
	if *all {
		summary, err := p.UpdateAll(ctx, opts)
		if err != nil {
			return err
		}
		fmt.Printf("Updated %d, unchanged %d, failed %d\n", summary.Updated, summary.Unchanged, summary.Failed)
		if summary.Failed > 0 {
			os.Exit(1)
		}
		return nil
	}

	if opts.WorkspacePath == "" {
		return fmt.Errorf("update requires --workspace or --all")
	}
	changed, err := p.Update(ctx, opts)
	if err != nil {
		return err
	}
	if changed {
		fmt.Println("Workspace updated")
	} else {
		fmt.Println("Workspace up to date")
	}
	return nil
}

func cmdCheck(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	repoRoot := fs.String("repo-root", ".", "Fleet repository root")
	workspacePath, err := parsePositional(fs, args, "workspace path")
	if err != nil {
		return err
	}
	absRoot, err := filepath.Abs(*repoRoot)
	if err != nil {
		return err
	}

	v := validate.New(exec.NewLocalExec())
	report, err := v.Workspace(ctx, validate.Options{
		WorkspacePath: workspacePath,
		RepoRoot:      absRoot,
	})
	if err != nil {
		return err
	}
	report.Print(os.Stdout)
	if !report.Passed() {
		os.Exit(1)
	}
	return nil
}

func cmdUp(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("up", flag.ExitOnError)
	var opts storage.UpOptions
	fs.StringVar(&opts.RepoRoot, "repo-root", ".", "Fleet repository root")
	fs.StringVar(&opts.ManifestPath, "manifest", "", "Manifest path override")
	fs.StringVar(&opts.MappingPath, "mapping", "", "Persistence mapping path override")
	fs.BoolVar(&opts.Rebuild, "rebuild", false, "Rebuild the container from scratch")
	target, err := parsePositional(fs, args, "workspace target")
	if err != nil {
		return err
	}
	absRoot, err := filepath.Abs(opts.RepoRoot)
	if err != nil {
		return err
	}
	opts.RepoRoot = absRoot
	opts.Target = target
	if err := initLogFile(absRoot); err != nil {
		return err
	}
	defer logx.CloseLogFile()

	// Unlock the secrets file when present so credential lookups can fall
	// back to it before the environment.
	if secrets.Exists(absRoot) {
		password, err := secrets.PromptPassword("Secrets password: ")
		if err != nil {
			return err
		}
		if err := secrets.Unlock(absRoot, password); err != nil {
			return err
		}
	}
	opts.Getenv = secrets.Getenv

	return storage.NewBooter(exec.NewLocalExec()).Up(ctx, opts)
}

func cmdStorage(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("storage requires a subcommand: validate or show")
	}

	fs := flag.NewFlagSet("storage", flag.ExitOnError)
	repoRoot := fs.String("repo-root", ".", "Fleet repository root")
	mappingPath := fs.String("mapping", "", "Persistence mapping path override")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	absRoot, err := filepath.Abs(*repoRoot)
	if err != nil {
		return err
	}
	if *mappingPath == "" {
		*mappingPath = filepath.Join(absRoot, "nexus", "persistence-mappings.yaml")
	}

	mapping, err := storage.LoadMapping(*mappingPath)
	if err != nil {
		return err
	}

	switch args[0] {
	case "show":
		out, err := yaml.Marshal(mapping)
		if err != nil {
			return err
		}
		os.Stdout.Write(out)
		return nil

	case "validate":
		if fs.NArg() != 1 {
			return fmt.Errorf("storage validate requires a workspace path")
		}
		workspacePath, err := filepath.Abs(fs.Arg(0))
		if err != nil {
			return err
		}
		m, err := manifest.Load(filepath.Join(absRoot, "codespaces", "manifest.yaml"))
		if err != nil {
			return err
		}
		entry := m.Find(workspacePath, absRoot)
		if entry == nil {
			return fmt.Errorf("workspace %s is not listed in the manifest", workspacePath)
		}
		key := fmt.Sprintf("%s/%s/%s", entry.OrgSlug, entry.ProjectSlug, entry.Environment.Name)
		wsEntry, ok := mapping.Workspaces[key]
		if !ok {
			return fmt.Errorf("workspace %s has no entry in %s", key, *mappingPath)
		}
		if err := storage.ValidateMountsMatchSpec(workspacePath, wsEntry); err != nil {
			return err
		}
		fmt.Printf("Storage mapping for %s matches the workspace spec\n", key)
		return nil

	default:
		return fmt.Errorf("unknown storage subcommand %q", args[0])
	}
}

func cmdSecrets(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("secrets requires a subcommand: init, set, or unlock")
	}

	fs := flag.NewFlagSet("secrets", flag.ExitOnError)
	repoRoot := fs.String("repo-root", ".", "Fleet repository root")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	absRoot, err := filepath.Abs(*repoRoot)
	if err != nil {
		return err
	}
	rest := fs.Args()

	switch args[0] {
	case "init":
		if secrets.Exists(absRoot) {
			return fmt.Errorf("secrets file already exists at %s", secrets.FilePath(absRoot))
		}
		password, err := secrets.PromptPassword("New secrets password: ")
		if err != nil {
			return err
		}
		if err := secrets.EncryptFile(absRoot, password, map[string]string{}); err != nil {
			return err
		}
		fmt.Printf("Created %s\n", secrets.FilePath(absRoot))
		return nil

	case "set":
		if len(rest) < 1 {
			return fmt.Errorf("secrets set requires a secret name")
		}
		password, err := secrets.PromptPassword("Secrets password: ")
		if err != nil {
			return err
		}
		if secrets.Exists(absRoot) {
			if err := secrets.Unlock(absRoot, password); err != nil {
				return err
			}
		}
		value := ""
		if len(rest) > 1 {
			value = rest[1]
		} else {
			value, err = secrets.PromptPassword(fmt.Sprintf("Value for %s: ", rest[0]))
			if err != nil {
				return err
			}
		}
		secrets.SetSecret(rest[0], value)
		if err := secrets.Save(absRoot, password); err != nil {
			return err
		}
		fmt.Printf("Stored %s\n", rest[0])
		return nil

	case "unlock":
		password, err := secrets.PromptPassword("Secrets password: ")
		if err != nil {
			return err
		}
		if err := secrets.Unlock(absRoot, password); err != nil {
			return err
		}
		fmt.Println("Secrets file OK")
		return nil

	default:
		return fmt.Errorf("unknown secrets subcommand %q", args[0])
	}
}

// initLogFile mirrors log output of mutating commands to a file under the
// fleet repo for post-mortem inspection.
func initLogFile(repoRoot string) error {
	return logx.InitializeLogFile(filepath.Join(repoRoot, ".codespaces", "logs"), false)
}

// parsePositional parses fs and returns the single required positional
// argument.
func parsePositional(fs *flag.FlagSet, args []string, what string) (string, error) {
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if fs.NArg() != 1 {
		return "", fmt.Errorf("expected exactly one %s argument", what)
	}
	return fs.Arg(0), nil
}

// stringList is a repeatable flag value.
type stringList []string

func (s *stringList) String() string {
	return strings.Join(*s, ",")
}

func (s *stringList) Set(value string) error {
	*s = append(*s, value)
	return nil
}
