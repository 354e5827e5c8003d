package lab

import (
	"context"
	"errors"
	"fmt"
	"strings"

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

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const panelCols = `lp.id, lp.client_id, lp.encounter_id, lp.panel_type, lp.lab_name, lp.status,
	lp.ordered_at, lp.collected_at, lp.reported_at, lp.created_by, lp.created_at, lp.updated_at`

func scanPanel(row pgx.Row) (*Panel, error) {
	var p Panel
	err := row.Scan(&p.ID, &p.ClientID, &p.EncounterID, &p.PanelType, &p.LabName, &p.Status,
		&p.OrderedAt, &p.CollectedAt, &p.ReportedAt, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func (r *repoPG) CreatePanel(ctx context.Context, p *Panel) error {
	p.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO lab_panels (id, client_id, encounter_id, panel_type, lab_name, status,
			ordered_at, collected_at, reported_at, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		p.ID, p.ClientID, p.EncounterID, p.PanelType, p.LabName, p.Status,
		p.OrderedAt, p.CollectedAt, p.ReportedAt, p.CreatedBy).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *repoPG) GetPanel(ctx context.Context, id uuid.UUID) (*Panel, error) {
	p, err := scanPanel(r.conn(ctx).QueryRow(ctx, `SELECT `+panelCols+` FROM lab_panels lp WHERE lp.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, panel_id, test_code, value_num::float8, value_text, unit, ref_low::float8, ref_high::float8,
			abnormal, created_at
		FROM lab_results WHERE panel_id = $1 ORDER BY created_at, id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var res Result
		if err := rows.Scan(&res.ID, &res.PanelID, &res.TestCode, &res.ValueNum, &res.ValueText, &res.Unit,
			&res.RefLow, &res.RefHigh, &res.Abnormal, &res.CreatedAt); err != nil {
			return nil, err
		}
		p.Results = append(p.Results, &res)
	}
	return p, rows.Err()
}

func (r *repoPG) UpdatePanel(ctx context.Context, p *Panel) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE lab_panels SET lab_name = $2, status = $3, collected_at = $4, reported_at = $5, updated_at = NOW()
		WHERE id = $1`, p.ID, p.LabName, p.Status, p.CollectedAt, p.ReportedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) ListPanels(ctx context.Context, f Filter, limit, offset int) ([]*Panel, int, error) {
	where := []string{"1=1"}
	var args []interface{}
	idx := 1
	add := func(cond string, v interface{}) {
		where = append(where, fmt.Sprintf(cond, idx))
		args = append(args, v)
		idx++
	}
	if f.ClientID != nil {
		add("lp.client_id = $%d", *f.ClientID)
	}
	if f.PanelType != "" {
		add("lp.panel_type = $%d", f.PanelType)
	}
	if f.Status != "" {
		add("lp.status = $%d", f.Status)
	}
	if f.FacilityID != nil {
		add("c.current_facility_id = $%d", *f.FacilityID)
	}
	if f.AssignedUserID != nil {
		where = append(where, fmt.Sprintf("(c.case_manager_id = $%d OR lp.created_by = $%d)", idx, idx))
		args = append(args, *f.AssignedUserID)
		idx++
	}
	from := ` FROM lab_panels lp JOIN clients c ON c.id = lp.client_id WHERE ` + strings.Join(where, " AND ")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*)`+from, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := fmt.Sprintf(`SELECT %s%s ORDER BY COALESCE(lp.reported_at, lp.created_at) DESC, lp.id LIMIT $%d OFFSET $%d`,
		panelCols, from, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Panel
	for rows.Next() {
		p, err := scanPanel(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

func (r *repoPG) AddResult(ctx context.Context, res *Result) error {
	res.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO lab_results (id, panel_id, test_code, value_num, value_text, unit, ref_low, ref_high, abnormal)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at`,
		res.ID, res.PanelID, res.TestCode, res.ValueNum, res.ValueText, res.Unit,
		res.RefLow, res.RefHigh, res.Abnormal).Scan(&res.CreatedAt)
}
