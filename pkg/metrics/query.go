// Package metrics queries a Prometheus server for aggregated sync activity,
// backing the daemon's status subcommand.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// WorkspaceSyncStatus summarizes sync activity for one workspace.
type WorkspaceSyncStatus struct {
	Workspace    string        `json:"workspace"`
	SyncSuccess  int64         `json:"sync_success"`
	SyncErrors   int64         `json:"sync_errors"`
	MaxErrstreak int64         `json:"max_error_streak"`
	AvgDuration  time.Duration `json:"avg_duration"`
}

// Healthy reports whether the workspace is syncing without a standing error
// streak.
func (s *WorkspaceSyncStatus) Healthy() bool {
	return s.MaxErrstreak == 0
}

// QueryService provides methods to query sync metrics from Prometheus.
type QueryService struct {
	client   api.Client
	queryAPI v1.API
}

// NewQueryService creates a metrics query service against a Prometheus URL.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}

	return &QueryService{
		client:   client,
		queryAPI: v1.NewAPI(client),
	}, nil
}

// scalar runs a query and returns the first vector sample, zero when the
// series does not exist yet.
func (q *QueryService) scalar(ctx context.Context, query string) (float64, error) {
	result, _, err := q.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		return 0, fmt.Errorf("query %q: %w", query, err)
	}
	if vector, ok := result.(model.Vector); ok && len(vector) > 0 {
		return float64(vector[0].Value), nil
	}
	return 0, nil
}

// GetWorkspaceStatus retrieves aggregated sync counters for a workspace.
func (q *QueryService) GetWorkspaceStatus(ctx context.Context, workspace string) (*WorkspaceSyncStatus, error) {
	status := &WorkspaceSyncStatus{Workspace: workspace}

	success, err := q.scalar(ctx,
		fmt.Sprintf(`sum(codespaces_sync_total{workspace=%q, status="success"})`, workspace))
	if err != nil {
		return nil, fmt.Errorf("failed to query sync successes: %w", err)
	}
	status.SyncSuccess = int64(success)

	errors, err := q.scalar(ctx,
		fmt.Sprintf(`sum(codespaces_sync_total{workspace=%q, status="error"})`, workspace))
	if err != nil {
		return nil, fmt.Errorf("failed to query sync errors: %w", err)
	}
	status.SyncErrors = int64(errors)

	streak, err := q.scalar(ctx,
		fmt.Sprintf(`max(codespaces_sync_error_streak{workspace=%q})`, workspace))
	if err != nil {
		return nil, fmt.Errorf("failed to query error streak: %w", err)
	}
	status.MaxErrstreak = int64(streak)

	avg, err := q.scalar(ctx, fmt.Sprintf(
		`sum(codespaces_sync_duration_seconds_sum{workspace=%q}) / sum(codespaces_sync_duration_seconds_count{workspace=%q})`,
		workspace, workspace))
	if err != nil {
		return nil, fmt.Errorf("failed to query sync duration: %w", err)
	}
	status.AvgDuration = time.Duration(avg * float64(time.Second))

	return status, nil
}
