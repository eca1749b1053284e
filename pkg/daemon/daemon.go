package daemon

import (
	"context"
	"time"

	"codespaces/pkg/logx"
)

// Daemon runs the poll loop over a sync plan. Single-threaded: one action
// runs at a time, checked against its own interval on every tick.
type Daemon struct {
	plan   Plan
	runner *Runner
	store  *Store
	logger *logx.Logger

	// PollInterval is how often due actions are checked.
	PollInterval time.Duration

	// FlushBudget bounds the shutdown flush of priority 1 and 2 actions.
	FlushBudget time.Duration
}

// New creates a Daemon for a plan.
func New(plan Plan, runner *Runner, store *Store) *Daemon {
	return &Daemon{
		plan:         plan,
		runner:       runner,
		store:        store,
		logger:       logx.NewLogger("daemon"),
		PollInterval: 5 * time.Second,
		FlushBudget:  30 * time.Second,
	}
}

// due reports whether an action's interval has elapsed since its last
// successful sync. A never-synced action is always due.
func (d *Daemon) due(action Action, now time.Time) bool {
	last, err := d.store.LastSync(action.Name)
	if err != nil {
		d.logger.Warn("Could not read last sync for %s: %v", action.Name, err)
		return true
	}
	return now.Sub(last) >= action.Interval
}

// RunOnce executes every action in the plan one time, in priority order.
// Failures are logged and counted, not fatal, so one broken path cannot
// starve the others.
func (d *Daemon) RunOnce(ctx context.Context) int {
	failures := 0
	for _, action := range d.plan.Actions {
		if err := d.runner.SyncOne(ctx, d.plan.Workspace, action); err != nil {
			d.logger.Error("Sync %s: %v", action.Name, err)
			failures++
		}
	}
	return failures
}

// Run is the continuous loop. It returns when ctx is canceled, after
// flushing priority 1 and 2 actions within the flush budget so a stopping
// container pushes its critical data out first. Cancellation is cooperative;
// the action in flight always finishes.
func (d *Daemon) Run(ctx context.Context) {
	d.logger.Info("Daemon loop started (%d actions, poll every %s)", len(d.plan.Actions), d.PollInterval)

	ticker := time.NewTicker(d.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.flush()
			return
		case <-ticker.C:
			now := d.runner.Now()
			for _, action := range d.plan.Actions {
				if ctx.Err() != nil {
					break
				}
				if !d.due(action, now) {
					continue
				}
				if err := d.runner.SyncOne(ctx, d.plan.Workspace, action); err != nil {
					d.logger.Error("Sync %s: %v", action.Name, err)
				}
			}
		}
	}
}

// flush runs the priority 1 and 2 actions one last time within the budget.
// Priority 3 actions are skipped; losing a nice-to-have sync on shutdown is
// acceptable, blocking container teardown is not.
func (d *Daemon) flush() {
	d.logger.Info("Shutting down, flushing critical sync paths (budget %s)", d.FlushBudget)

	ctx, cancel := context.WithTimeout(context.Background(), d.FlushBudget)
	defer cancel()

	for _, action := range d.plan.Actions {
		if action.Priority > 2 {
			continue
		}
		if ctx.Err() != nil {
			d.logger.Warn("Flush budget exhausted, skipping remaining paths")
			return
		}
		if err := d.runner.SyncOne(ctx, d.plan.Workspace, action); err != nil {
			d.logger.Error("Flush %s: %v", action.Name, err)
		}
	}
	d.logger.Info("Flush complete")
}
