package dashboard

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/cebuhealth/hivcare/internal/platform/db"
)

type Service struct {
	store Store
	tx    db.TxRunner
	now   func() time.Time
}

func NewService(store Store, tx db.TxRunner) *Service {
	return &Service{store: store, tx: tx, now: time.Now}
}

// Get builds the live dashboard. The queries are independent and run
// concurrently on the pool.
func (s *Service) Get(ctx context.Context, facility *uuid.UUID) (*Dashboard, error) {
	now := s.now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	d := &Dashboard{FacilityID: facility, GeneratedAt: now}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		d.ClientsByStatus, err = s.store.StatusCounts(ctx, facility)
		return err
	})
	g.Go(func() (err error) {
		d.Overview.RecentEnrollments, err = s.store.EnrollmentsSince(ctx, facility, monthStart)
		return err
	})
	g.Go(func() (err error) {
		d.Trends.EnrollmentsByMonth, err = s.store.EnrollmentsByMonth(ctx, facility, monthStart.AddDate(0, -(EnrollmentMonths-1), 0))
		return err
	})
	g.Go(func() (err error) {
		d.ActivePrescribing, err = s.store.ActivePrescriptions(ctx, facility)
		return err
	})
	g.Go(func() (err error) {
		d.Tasks.TaskCounts, err = s.store.TaskCounts(ctx, facility, now)
		return err
	})
	g.Go(func() (err error) {
		d.Tasks.Upcoming, err = s.store.UpcomingTasks(ctx, facility, now, now.AddDate(0, 0, UpcomingTaskDays), UpcomingTaskLimit)
		return err
	})
	g.Go(func() (err error) {
		d.Overview.RecentEncounters, err = s.store.EncountersSince(ctx, facility, now.AddDate(0, 0, -RecentEncounterDays))
		return err
	})
	g.Go(func() (err error) {
		d.Overview.PendingLabs, err = s.store.PendingLabs(ctx, facility)
		return err
	})
	g.Go(func() (err error) {
		d.Trends.ViralLoadStatus, err = s.store.ViralLoadDistribution(ctx, facility)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, c := range d.ClientsByStatus {
		d.Overview.TotalClients += c.Count
	}
	return d, nil
}

// Refresh rebuilds every reporting view in one transaction and returns the
// metrics read back from them.
func (s *Service) Refresh(ctx context.Context) (*Metrics, error) {
	if err := s.tx.RunInTx(ctx, s.store.RefreshViews); err != nil {
		return nil, fmt.Errorf("refresh reporting views: %w", err)
	}
	now := s.now()
	m, err := s.store.ReportingMetrics(ctx, now.AddDate(0, 0, -RecentEncounterDays), now)
	if err != nil {
		return nil, fmt.Errorf("read reporting metrics: %w", err)
	}
	return m, nil
}
