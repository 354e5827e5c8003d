// Package jobs runs the scheduled batch jobs: task generation, clinical
// summary refresh and dashboard view refresh. Jobs are triggered over HTTP
// by an external scheduler holding the shared secret, or from the CLI.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cebuhealth/hivcare/internal/domain/dashboard"
	"github.com/cebuhealth/hivcare/internal/domain/task"
	"github.com/cebuhealth/hivcare/internal/platform/audit"
)

const (
	GenerateTasks    = "generate-tasks"
	RefreshSummaries = "refresh-summaries"
	RefreshDashboard = "refresh-dashboard"
)

// Names lists the jobs in a stable order.
var Names = []string{GenerateTasks, RefreshSummaries, RefreshDashboard}

// ErrUnknownJob is returned for a name not in Names.
var ErrUnknownJob = errors.New("unknown job")

type TaskGenerator interface {
	Run(ctx context.Context) (task.Stats, error)
}

type SummaryRefresher interface {
	Run(ctx context.Context) (int, error)
}

type DashboardRefresher interface {
	Refresh(ctx context.Context) (*dashboard.Metrics, error)
}

// Result is a successful run.
type Result struct {
	Message string      `json:"message"`
	Stats   interface{} `json:"stats,omitempty"`
}

type Runner struct {
	tasks     TaskGenerator
	summaries SummaryRefresher
	dashboard DashboardRefresher
	locker    Locker
	lockTTL   time.Duration
	audit     *audit.Logger
	logger    zerolog.Logger
}

func NewRunner(tasks TaskGenerator, summaries SummaryRefresher, dash DashboardRefresher,
	locker Locker, lockTTL time.Duration, auditLog *audit.Logger, logger zerolog.Logger) *Runner {
	if locker == nil {
		locker = NewLocalLocker()
	}
	return &Runner{
		tasks:     tasks,
		summaries: summaries,
		dashboard: dash,
		locker:    locker,
		lockTTL:   lockTTL,
		audit:     auditLog,
		logger:    logger,
	}
}

// Run executes the named job under its lock and records the outcome.
func (r *Runner) Run(ctx context.Context, name string) (*Result, error) {
	run, ok := r.jobs()[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}

	release, err := r.locker.Acquire(ctx, name, r.lockTTL)
	if err != nil {
		if errors.Is(err, ErrJobRunning) {
			RunsTotal.WithLabelValues(name, "skipped").Inc()
		}
		return nil, err
	}
	defer release()

	start := time.Now()
	res, err := run(ctx)
	elapsed := time.Since(start)
	RunDuration.WithLabelValues(name).Observe(elapsed.Seconds())

	if err != nil {
		RunsTotal.WithLabelValues(name, "failure").Inc()
		r.logger.Error().Err(err).Str("job", name).Dur("elapsed", elapsed).Msg("job failed")
		r.audit.LogSystem(ctx, audit.ActionUpdate, "job", name, map[string]interface{}{
			"outcome": "failure",
			"error":   err.Error(),
		})
		return nil, err
	}

	RunsTotal.WithLabelValues(name, "success").Inc()
	r.logger.Info().Str("job", name).Dur("elapsed", elapsed).Msg("job finished")
	r.audit.LogSystem(ctx, audit.ActionUpdate, "job", name, map[string]interface{}{
		"outcome": "success",
		"stats":   res.Stats,
	})
	return res, nil
}

func (r *Runner) jobs() map[string]func(context.Context) (*Result, error) {
	return map[string]func(context.Context) (*Result, error){
		GenerateTasks:    r.generateTasks,
		RefreshSummaries: r.refreshSummaries,
		RefreshDashboard: r.refreshDashboard,
	}
}

func (r *Runner) generateTasks(ctx context.Context) (*Result, error) {
	stats, err := r.tasks.Run(ctx)
	if err != nil {
		return nil, err
	}
	TasksGenerated.WithLabelValues(string(task.TypeLTFUReview)).Add(float64(stats.LTFU))
	TasksGenerated.WithLabelValues(string(task.TypeLabsPending)).Add(float64(stats.LabsDue))
	TasksGenerated.WithLabelValues("REFILL").Add(float64(stats.RefillDue))
	TasksGenerated.WithLabelValues(string(task.TypeVLMonitor)).Add(float64(stats.VLMonitor))
	return &Result{Message: "Tasks generated successfully", Stats: stats}, nil
}

func (r *Runner) refreshSummaries(ctx context.Context) (*Result, error) {
	n, err := r.summaries.Run(ctx)
	if err != nil {
		return nil, err
	}
	SummariesRefreshed.Add(float64(n))
	return &Result{
		Message: "Clinical summaries refreshed successfully",
		Stats:   map[string]int{"refreshed": n},
	}, nil
}

func (r *Runner) refreshDashboard(ctx context.Context) (*Result, error) {
	m, err := r.dashboard.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	return &Result{Message: "Dashboard data refreshed successfully", Stats: m}, nil
}
