// Command codespaces-syncd is the in-container sync daemon for replicated
// persistence. It loads the workspace spec, plans the rclone sync actions,
// and runs them on their intervals until the container stops, flushing
// critical paths on the way out.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"codespaces/pkg/daemon"
	"codespaces/pkg/exec"
	"codespaces/pkg/logx"
	"codespaces/pkg/metrics"
	"codespaces/pkg/spec"
)

const defaultSpecPath = "/workspace/.devcontainer/workspace-spec.yaml"

var version = "dev"

func main() {
	var (
		configPath    = flag.String("config", defaultSpecPath, "Path to the workspace spec")
		bucket        = flag.String("bucket", os.Getenv("RCLONE_BUCKET"), "Object store bucket for remote paths")
		once          = flag.Bool("once", false, "Run every sync action once and exit")
		dryRun        = flag.Bool("dry-run", false, "Pass --dry-run to rclone and skip state updates")
		validateOnly  = flag.Bool("validate-only", false, "Validate the spec and print the plan, then exit")
		interval      = flag.Duration("interval", 0, "Override every action's sync interval")
		only          = flag.String("only", "", "Comma-separated action names to run (default: all)")
		metricsAddr   = flag.String("metrics-addr", "", "Listen address for /metrics (empty: disabled)")
		statePath     = flag.String("state-path", "", "State database path (default: per-workspace under /var/lib/codespaces-syncd)")
		status        = flag.Bool("status", false, "Query sync status from Prometheus and exit")
		prometheusURL = flag.String("prometheus-url", "http://localhost:9090", "Prometheus server for --status")
		showVersion   = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("codespaces-syncd %s\n", version)
		os.Exit(0)
	}

	os.Exit(run(options{
		configPath:    *configPath,
		bucket:        *bucket,
		once:          *once,
		dryRun:        *dryRun,
		validateOnly:  *validateOnly,
		interval:      *interval,
		only:          splitNames(*only),
		metricsAddr:   *metricsAddr,
		statePath:     *statePath,
		status:        *status,
		prometheusURL: *prometheusURL,
	}))
}

type options struct {
	configPath    string
	bucket        string
	once          bool
	dryRun        bool
	validateOnly  bool
	interval      time.Duration
	only          []string
	metricsAddr   string
	statePath     string
	status        bool
	prometheusURL string
}

func run(opts options) int {
	logger := logx.NewLogger("syncd")

	ws, err := spec.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: loading spec: %v\n", err)
		return 1
	}
	if err := ws.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid spec: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if opts.status {
		return printStatus(ctx, ws.Name, opts.prometheusURL)
	}

	plan := daemon.BuildPlan(ws, daemon.PlanOptions{
		Bucket:           opts.bucket,
		IntervalOverride: opts.interval,
	}).FilterByNames(opts.only)

	if opts.validateOnly {
		fmt.Printf("Spec OK: workspace %s, %d sync actions\n", ws.Name, len(plan.Actions))
		for _, a := range plan.Actions {
			fmt.Printf("  [%d] %-20s %-13s %s -> %s every %s\n",
				a.Priority, a.Name, a.Direction, a.LocalPath, a.RemotePath, a.Interval)
		}
		return 0
	}
	if plan.IsEmpty() {
		logger.Info("No sync actions planned (persistence disabled or not replicated), exiting")
		return 0
	}

	statePath := opts.statePath
	if statePath == "" {
		statePath = daemon.DefaultStorePath(ws.Name)
	}
	store, err := daemon.OpenStore(statePath, ws.Name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: opening state store: %v\n", err)
		return 1
	}
	defer store.Close()

	var m *daemon.Metrics
	if opts.metricsAddr != "" {
		m = daemon.NewMetrics(nil)
		go func() {
			if err := daemon.ServeMetrics(opts.metricsAddr); err != nil {
				logger.Warn("Metrics listener stopped: %v", err)
			}
		}()
	}

	runner := daemon.NewRunner(exec.NewLocalExec(), store, m)
	runner.DryRun = opts.dryRun
	d := daemon.New(plan, runner, store)

	if opts.once {
		if failures := d.RunOnce(ctx); failures > 0 {
			return 1
		}
		return 0
	}

	d.Run(ctx)
	return 0
}

func printStatus(ctx context.Context, workspace, prometheusURL string) int {
	svc, err := metrics.NewQueryService(prometheusURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	status, err := svc.GetWorkspaceStatus(ctx, workspace)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: querying sync status: %v\n", err)
		return 1
	}
	out, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Println(string(out))
	if !status.Healthy() {
		return 1
	}
	return 0
}

func splitNames(csv string) []string {
	if csv == "" {
		return nil
	}
	var names []string
	for _, n := range strings.Split(csv, ",") {
		if trimmed := strings.TrimSpace(n); trimmed != "" {
			names = append(names, trimmed)
		}
	}
	return names
}
