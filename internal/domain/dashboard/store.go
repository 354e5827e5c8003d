package dashboard

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store runs the dashboard queries. A nil facility means every facility.
type Store interface {
	StatusCounts(ctx context.Context, facility *uuid.UUID) ([]Count, error)
	EnrollmentsSince(ctx context.Context, facility *uuid.UUID, since time.Time) (int, error)
	EnrollmentsByMonth(ctx context.Context, facility *uuid.UUID, since time.Time) ([]MonthCount, error)
	ActivePrescriptions(ctx context.Context, facility *uuid.UUID) ([]Count, error)
	TaskCounts(ctx context.Context, facility *uuid.UUID, now time.Time) (TaskCounts, error)
	UpcomingTasks(ctx context.Context, facility *uuid.UUID, from, to time.Time, limit int) ([]UpcomingTask, error)
	EncountersSince(ctx context.Context, facility *uuid.UUID, since time.Time) (int, error)
	PendingLabs(ctx context.Context, facility *uuid.UUID) (int, error)
	ViralLoadDistribution(ctx context.Context, facility *uuid.UUID) ([]Count, error)

	// RefreshViews rebuilds the reporting materialized views.
	RefreshViews(ctx context.Context) error
	// ReportingMetrics reads the views plus activity since the given time.
	ReportingMetrics(ctx context.Context, since, now time.Time) (*Metrics, error)
}
