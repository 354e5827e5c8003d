package dashboard

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cebuhealth/hivcare/internal/domain/task"
	"github.com/cebuhealth/hivcare/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type StorePG struct{ pool *pgxpool.Pool }

func NewStorePG(pool *pgxpool.Pool) *StorePG {
	return &StorePG{pool: pool}
}

func (s *StorePG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return s.pool
}

// Views in refresh order.
var reportingViews = []string{
	"mv_enrollments_by_month",
	"mv_status_counts",
	"mv_task_summary",
	"mv_facility_metrics",
}

// inFacility restricts the clients alias c; $1 is the facility or NULL.
const inFacility = `($1::uuid IS NULL OR c.current_facility_id = $1)`

func (s *StorePG) count(ctx context.Context, query string, args ...interface{}) (int, error) {
	var n int
	err := s.conn(ctx).QueryRow(ctx, query, args...).Scan(&n)
	return n, err
}

func (s *StorePG) counts(ctx context.Context, query string, args ...interface{}) ([]Count, error) {
	rows, err := s.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Count, error) {
		var c Count
		err := row.Scan(&c.Key, &c.Count)
		return c, err
	})
	if out == nil {
		out = []Count{}
	}
	return out, err
}

func (s *StorePG) StatusCounts(ctx context.Context, facility *uuid.UUID) ([]Count, error) {
	return s.counts(ctx, `
		SELECT c.status, COUNT(*)::int FROM clients c
		WHERE `+inFacility+`
		GROUP BY c.status ORDER BY c.status`, facility)
}

func (s *StorePG) EnrollmentsSince(ctx context.Context, facility *uuid.UUID, since time.Time) (int, error) {
	return s.count(ctx, `
		SELECT COUNT(*) FROM clients c
		WHERE `+inFacility+` AND c.date_enrolled >= $2`, facility, since)
}

func (s *StorePG) EnrollmentsByMonth(ctx context.Context, facility *uuid.UUID, since time.Time) ([]MonthCount, error) {
	rows, err := s.conn(ctx).Query(ctx, `
		SELECT date_trunc('month', c.date_enrolled), COUNT(*)::int FROM clients c
		WHERE `+inFacility+` AND c.date_enrolled >= $2
		GROUP BY 1 ORDER BY 1`, facility, since)
	if err != nil {
		return nil, err
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (MonthCount, error) {
		var m MonthCount
		err := row.Scan(&m.Month, &m.Count)
		return m, err
	})
	if out == nil {
		out = []MonthCount{}
	}
	return out, err
}

func (s *StorePG) ActivePrescriptions(ctx context.Context, facility *uuid.UUID) ([]Count, error) {
	return s.counts(ctx, `
		SELECT p.category, COUNT(*)::int FROM prescriptions p
		JOIN clients c ON c.id = p.client_id
		WHERE `+inFacility+` AND p.is_active
		GROUP BY p.category ORDER BY p.category`, facility)
}

func (s *StorePG) TaskCounts(ctx context.Context, facility *uuid.UUID, now time.Time) (TaskCounts, error) {
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	var tc TaskCounts
	err := s.conn(ctx).QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE t.due_date < $2),
			COUNT(*) FILTER (WHERE t.due_date >= $3 AND t.due_date < $4),
			COUNT(*) FILTER (WHERE t.due_date <= $2 AND t.type = ANY($5))
		FROM tasks t
		JOIN clients c ON c.id = t.client_id
		WHERE `+inFacility+` AND t.status = 'OPEN'`,
		facility, now, start, start.AddDate(0, 0, 1), criticalTypes()).Scan(&tc.Overdue, &tc.DueToday, &tc.Critical)
	return tc, err
}

func (s *StorePG) UpcomingTasks(ctx context.Context, facility *uuid.UUID, from, to time.Time, limit int) ([]UpcomingTask, error) {
	rows, err := s.conn(ctx).Query(ctx, `
		SELECT t.id, t.type, t.title, t.due_date, t.priority, c.id, c.client_code,
			c.legal_surname || ', ' || c.legal_first_name
		FROM tasks t
		JOIN clients c ON c.id = t.client_id
		WHERE `+inFacility+` AND t.status = 'OPEN' AND t.due_date BETWEEN $2 AND $3
		ORDER BY t.due_date ASC
		LIMIT $4`, facility, from, to, limit)
	if err != nil {
		return nil, err
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (UpcomingTask, error) {
		var u UpcomingTask
		err := row.Scan(&u.ID, &u.Type, &u.Title, &u.DueDate, &u.Priority, &u.ClientID, &u.ClientCode, &u.ClientName)
		return u, err
	})
	if out == nil {
		out = []UpcomingTask{}
	}
	return out, err
}

func (s *StorePG) EncountersSince(ctx context.Context, facility *uuid.UUID, since time.Time) (int, error) {
	return s.count(ctx, `
		SELECT COUNT(*) FROM encounters e
		JOIN clients c ON c.id = e.client_id
		WHERE `+inFacility+` AND e.date >= $2`, facility, since)
}

func (s *StorePG) PendingLabs(ctx context.Context, facility *uuid.UUID) (int, error) {
	return s.count(ctx, `
		SELECT COUNT(*) FROM lab_panels lp
		JOIN clients c ON c.id = lp.client_id
		WHERE `+inFacility+` AND lp.status = 'PENDING'`, facility)
}

func (s *StorePG) ViralLoadDistribution(ctx context.Context, facility *uuid.UUID) ([]Count, error) {
	return s.counts(ctx, `
		SELECT cs.viral_load_status, COUNT(*)::int FROM clinical_summaries cs
		JOIN clients c ON c.id = cs.client_id
		WHERE `+inFacility+`
		GROUP BY cs.viral_load_status ORDER BY cs.viral_load_status`, facility)
}

func (s *StorePG) RefreshViews(ctx context.Context) error {
	for _, view := range reportingViews {
		if _, err := s.conn(ctx).Exec(ctx, "REFRESH MATERIALIZED VIEW "+pgx.Identifier{view}.Sanitize()); err != nil {
			return fmt.Errorf("refresh %s: %w", view, err)
		}
	}
	return nil
}

func (s *StorePG) ReportingMetrics(ctx context.Context, since, now time.Time) (*Metrics, error) {
	m := &Metrics{}
	q := s.conn(ctx)

	rows, err := q.Query(ctx, `SELECT facility_id, month, total FROM mv_enrollments_by_month ORDER BY month DESC, facility_id LIMIT $1`, EnrollmentMonths)
	if err != nil {
		return nil, err
	}
	if m.EnrollmentTrends, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (FacilityMonth, error) {
		var v FacilityMonth
		err := row.Scan(&v.FacilityID, &v.Month, &v.Total)
		return v, err
	}); err != nil {
		return nil, err
	}

	rows, err = q.Query(ctx, `SELECT facility_id, status, total FROM mv_status_counts ORDER BY facility_id, status`)
	if err != nil {
		return nil, err
	}
	if m.StatusCounts, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (FacilityCount, error) {
		var v FacilityCount
		err := row.Scan(&v.FacilityID, &v.Key, &v.Total)
		return v, err
	}); err != nil {
		return nil, err
	}

	rows, err = q.Query(ctx, `SELECT facility_id, type, status, total, overdue FROM mv_task_summary ORDER BY facility_id, type, status`)
	if err != nil {
		return nil, err
	}
	if m.TaskSummary, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (TaskSummary, error) {
		var v TaskSummary
		err := row.Scan(&v.FacilityID, &v.Type, &v.Status, &v.Total, &v.Overdue)
		return v, err
	}); err != nil {
		return nil, err
	}

	rows, err = q.Query(ctx, `SELECT facility_id, name, total_clients, active_clients, suppressed_clients FROM mv_facility_metrics ORDER BY total_clients DESC`)
	if err != nil {
		return nil, err
	}
	if m.FacilityMetrics, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (FacilityMetric, error) {
		var v FacilityMetric
		err := row.Scan(&v.FacilityID, &v.Name, &v.TotalClients, &v.ActiveClients, &v.SuppressedClients)
		return v, err
	}); err != nil {
		return nil, err
	}

	if m.RecentActivity, err = s.counts(ctx, `
		SELECT 'encounter', COUNT(*)::int FROM encounters WHERE date >= $1
		UNION ALL
		SELECT 'dispense', COUNT(*)::int FROM dispenses WHERE dispensed_at >= $1
		UNION ALL
		SELECT 'lab_result', COUNT(*)::int FROM lab_panels WHERE reported_at >= $1`, since); err != nil {
		return nil, err
	}

	if m.CriticalTasks, err = s.count(ctx, `
		SELECT COUNT(*) FROM tasks
		WHERE status = 'OPEN' AND type = ANY($1) AND due_date <= $2`, criticalTypes(), now); err != nil {
		return nil, err
	}
	return m, nil
}

func criticalTypes() []string {
	out := make([]string, len(task.CriticalTypes))
	for i, t := range task.CriticalTypes {
		out[i] = string(t)
	}
	return out
}
