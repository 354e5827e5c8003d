package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cebuhealth/hivcare/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// RepoPG implements both Repository and GeneratorStore.
type RepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) *RepoPG {
	return &RepoPG{pool: pool}
}

func (r *RepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const taskCols = `t.id, t.client_id, t.type, t.title, t.description, t.due_date, t.status, t.priority,
	t.assigned_to, t.payload, t.created_by, t.completed_at, t.completed_by, t.created_at, t.updated_at,
	c.current_facility_id, c.client_code,
	CASE WHEN c.id IS NULL THEN NULL ELSE c.legal_surname || ', ' || c.legal_first_name END`

const taskFrom = ` FROM tasks t LEFT JOIN clients c ON c.id = t.client_id`

func scanTask(row pgx.Row) (*Task, error) {
	var t Task
	var payload []byte
	err := row.Scan(&t.ID, &t.ClientID, &t.Type, &t.Title, &t.Description, &t.DueDate, &t.Status, &t.Priority,
		&t.AssignedTo, &payload, &t.CreatedBy, &t.CompletedAt, &t.CompletedBy, &t.CreatedAt, &t.UpdatedAt,
		&t.FacilityID, &t.ClientCode, &t.ClientName)
	if err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &t.Payload); err != nil {
			return nil, fmt.Errorf("decode task payload: %w", err)
		}
	}
	return &t, nil
}

func (r *RepoPG) Create(ctx context.Context, t *Task) error {
	t.ID = uuid.New()
	if t.Payload == nil {
		t.Payload = map[string]interface{}{}
	}
	payload, err := json.Marshal(t.Payload)
	if err != nil {
		return fmt.Errorf("encode task payload: %w", err)
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO tasks (id, client_id, type, title, description, due_date, status, priority,
			assigned_to, payload, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at`,
		t.ID, t.ClientID, t.Type, t.Title, t.Description, t.DueDate, t.Status, t.Priority,
		t.AssignedTo, payload, t.CreatedBy).Scan(&t.CreatedAt, &t.UpdatedAt)
}

func (r *RepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Task, error) {
	t, err := scanTask(r.conn(ctx).QueryRow(ctx, `SELECT `+taskCols+taskFrom+` WHERE t.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return t, nil
}

// where renders f as a condition over tasks t joined to clients c.
func where(f Filter, now time.Time, withOverdue bool) (string, []interface{}) {
	conds := []string{"1=1"}
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, strings.ReplaceAll(cond, "?", fmt.Sprintf("$%d", len(args))))
	}
	if f.Status != "" {
		add("t.status = ?", f.Status)
	}
	if f.Type != "" {
		add("t.type = ?", f.Type)
	}
	if f.ClientID != nil {
		add("t.client_id = ?", *f.ClientID)
	}
	if withOverdue && f.Overdue {
		add("t.due_date < ?", now)
	}
	if f.FacilityID != nil {
		add("c.current_facility_id = ?", *f.FacilityID)
	}
	if f.AssignedUserID != nil {
		add("(t.assigned_to = ? OR t.created_by = ?)", *f.AssignedUserID)
	}
	return strings.Join(conds, " AND "), args
}

func (r *RepoPG) List(ctx context.Context, f Filter, now time.Time, limit, offset int) ([]*Task, int, error) {
	cond, args := where(f, now, true)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*)`+taskFrom+` WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s%s WHERE %s ORDER BY t.due_date ASC NULLS LAST, t.created_at DESC LIMIT $%d OFFSET $%d`,
		taskCols, taskFrom, cond, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, rows.Err()
}

func (r *RepoPG) Count(ctx context.Context, f Filter, now time.Time) (Counts, error) {
	cond, args := where(f, now, false)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	n := len(args)
	args = append(args, now, start, start.AddDate(0, 0, 1))

	var c Counts
	err := r.conn(ctx).QueryRow(ctx, fmt.Sprintf(`
		SELECT
			COUNT(*) FILTER (WHERE t.due_date < $%d),
			COUNT(*) FILTER (WHERE t.due_date >= $%d AND t.due_date < $%d),
			COUNT(*)
		%s WHERE %s`, n+1, n+2, n+3, taskFrom, cond), args...).Scan(&c.Overdue, &c.DueToday, &c.Total)
	return c, err
}

func (r *RepoPG) Update(ctx context.Context, t *Task) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE tasks SET status = $2, priority = $3, due_date = $4, completed_at = $5, completed_by = $6,
			updated_at = NOW()
		WHERE id = $1`, t.ID, t.Status, t.Priority, t.DueDate, t.CompletedAt, t.CompletedBy)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *RepoPG) Assign(ctx context.Context, id uuid.UUID, assignee *uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE tasks SET assigned_to = $2, updated_at = NOW() WHERE id = $1`, id, assignee)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// -- generator queries --

func collectCandidates(rows pgx.Rows, err error) ([]Candidate, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.ClientID, &c.ClientCode, &c.Surname, &c.FirstName); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *RepoPG) LTFUCandidates(ctx context.Context, cutoff time.Time) ([]Candidate, error) {
	return collectCandidates(r.conn(ctx).Query(ctx, `
		SELECT c.id, c.client_code, c.legal_surname, c.legal_first_name
		FROM clients c
		WHERE c.status = 'ACTIVE'
			AND NOT EXISTS (SELECT 1 FROM encounters e WHERE e.client_id = c.id AND e.date > $1)
			AND NOT EXISTS (
				SELECT 1 FROM dispenses d
				JOIN prescriptions p ON p.id = d.prescription_id
				WHERE p.client_id = c.id AND d.dispensed_at > $1
			)
		ORDER BY c.id`, cutoff))
}

func (r *RepoPG) ViralLoadCandidates(ctx context.Context, cutoff time.Time) ([]Candidate, error) {
	return collectCandidates(r.conn(ctx).Query(ctx, `
		SELECT DISTINCT c.id, c.client_code, c.legal_surname, c.legal_first_name
		FROM clients c
		JOIN prescriptions p ON p.client_id = c.id
		WHERE c.status = 'ACTIVE'
			AND p.category = 'ARV'
			AND p.is_active
			AND NOT EXISTS (
				SELECT 1 FROM lab_panels lp
				WHERE lp.client_id = c.id AND lp.panel_type = 'HIV_VL' AND lp.reported_at > $1
			)
		ORDER BY c.id`, cutoff))
}

func (r *RepoPG) UpcomingRefills(ctx context.Context, from, to time.Time) ([]RefillCandidate, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT c.id, c.legal_surname, c.legal_first_name, p.id, p.category, rg.name, d.days_supply, d.next_refill_date
		FROM dispenses d
		JOIN prescriptions p ON p.id = d.prescription_id
		JOIN clients c ON c.id = p.client_id
		LEFT JOIN regimens rg ON rg.id = p.regimen_id
		WHERE d.next_refill_date BETWEEN $1 AND $2
			AND p.category IN ('ARV', 'PREP')
		ORDER BY d.next_refill_date, d.id`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RefillCandidate
	for rows.Next() {
		var rc RefillCandidate
		if err := rows.Scan(&rc.ClientID, &rc.Surname, &rc.FirstName, &rc.PrescriptionID, &rc.Category,
			&rc.RegimenName, &rc.DaysSupply, &rc.NextRefillDate); err != nil {
			return nil, err
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}

func (r *RepoPG) HasOpenTask(ctx context.Context, q OpenTaskQuery) (bool, error) {
	var prescriptionID *string
	if q.PrescriptionID != nil {
		s := q.PrescriptionID.String()
		prescriptionID = &s
	}
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM tasks
			WHERE client_id = $1 AND type = $2 AND status = 'OPEN'
				AND ($3::text IS NULL OR payload->>'prescriptionId' = $3)
				AND ($4 = '' OR payload->'missingLabs' ? $4)
		)`, q.ClientID, q.Type, prescriptionID, q.MissingLab).Scan(&exists)
	return exists, err
}
