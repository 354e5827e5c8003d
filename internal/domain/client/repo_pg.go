package client

import (
	"context"
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

const clientCols = `id, client_code, uic, phil_health, legal_surname, legal_first_name, legal_middle_name,
	preferred_name, date_of_birth, sex_at_birth, contact_number, email, home_address, notes, status,
	facility_id, current_facility_id, case_manager_id, created_by, date_enrolled, last_visit_at,
	created_at, updated_at`

func scanClient(row pgx.Row) (*Client, error) {
	var c Client
	err := row.Scan(&c.ID, &c.ClientCode, &c.UIC, &c.PhilHealth, &c.LegalSurname, &c.LegalFirstName,
		&c.LegalMiddleName, &c.PreferredName, &c.DateOfBirth, &c.SexAtBirth, &c.ContactNumber, &c.Email,
		&c.HomeAddress, &c.Notes, &c.Status, &c.FacilityID, &c.CurrentFacilityID, &c.CaseManagerID,
		&c.CreatedBy, &c.DateEnrolled, &c.LastVisitAt, &c.CreatedAt, &c.UpdatedAt)
	return &c, err
}

func (r *repoPG) Create(ctx context.Context, c *Client) error {
	c.ID = uuid.New()
	q := r.conn(ctx)
	err := q.QueryRow(ctx, `
		INSERT INTO clients (id, client_code, uic, phil_health, legal_surname, legal_first_name,
			legal_middle_name, preferred_name, date_of_birth, sex_at_birth, contact_number, email,
			home_address, notes, status, facility_id, current_facility_id, case_manager_id, created_by,
			date_enrolled)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
		RETURNING created_at, updated_at`,
		c.ID, c.ClientCode, c.UIC, c.PhilHealth, c.LegalSurname, c.LegalFirstName,
		c.LegalMiddleName, c.PreferredName, c.DateOfBirth, c.SexAtBirth, c.ContactNumber, c.Email,
		c.HomeAddress, c.Notes, c.Status, c.FacilityID, c.CurrentFacilityID, c.CaseManagerID, c.CreatedBy,
		c.DateEnrolled).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicate
		}
		return err
	}
	_, err = q.Exec(ctx, `INSERT INTO clinical_summaries (client_id) VALUES ($1) ON CONFLICT DO NOTHING`, c.ID)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Client, error) {
	c, err := scanClient(r.conn(ctx).QueryRow(ctx, `SELECT `+clientCols+` FROM clients WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

func (r *repoPG) ExistsDuplicate(ctx context.Context, facilityID uuid.UUID, clientCode, uic string, excludeID *uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM clients
			WHERE (uic = $3 OR (facility_id = $1 AND client_code = $2))
				AND ($4::uuid IS NULL OR id <> $4)
		)`, facilityID, clientCode, uic, excludeID).Scan(&exists)
	return exists, err
}

func (r *repoPG) Update(ctx context.Context, c *Client) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE clients SET client_code=$2, uic=$3, phil_health=$4, legal_surname=$5, legal_first_name=$6,
			legal_middle_name=$7, preferred_name=$8, date_of_birth=$9, sex_at_birth=$10, contact_number=$11,
			email=$12, home_address=$13, notes=$14, updated_at=NOW()
		WHERE id = $1`,
		c.ID, c.ClientCode, c.UIC, c.PhilHealth, c.LegalSurname, c.LegalFirstName,
		c.LegalMiddleName, c.PreferredName, c.DateOfBirth, c.SexAtBirth, c.ContactNumber,
		c.Email, c.HomeAddress, c.Notes)
	return affected(tag, err)
}

func (r *repoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE clients SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	return affected(tag, err)
}

func (r *repoPG) Assign(ctx context.Context, id uuid.UUID, caseManagerID *uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE clients SET case_manager_id = $2, updated_at = NOW() WHERE id = $1`, id, caseManagerID)
	return affected(tag, err)
}

func (r *repoPG) Transfer(ctx context.Context, id, toFacilityID uuid.UUID, status Status) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE clients SET current_facility_id = $2, status = $3, updated_at = NOW()
		WHERE id = $1`, id, toFacilityID, status)
	return affected(tag, err)
}

func (r *repoPG) TouchLastVisit(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE clients SET last_visit_at = GREATEST(COALESCE(last_visit_at, $2), $2), updated_at = NOW()
		WHERE id = $1`, id, at)
	return affected(tag, err)
}

func (r *repoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Client, int, error) {
	where := []string{"1=1"}
	var args []interface{}
	idx := 1

	if f.Search != "" {
		where = append(where, fmt.Sprintf(`(legal_surname ILIKE $%d OR legal_first_name ILIKE $%d
			OR preferred_name ILIKE $%d OR client_code ILIKE $%d OR uic ILIKE $%d)`, idx, idx, idx, idx, idx))
		args = append(args, "%"+f.Search+"%")
		idx++
	}
	if f.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d", idx))
		args = append(args, f.Status)
		idx++
	}
	if f.FacilityID != nil {
		where = append(where, fmt.Sprintf("current_facility_id = $%d", idx))
		args = append(args, *f.FacilityID)
		idx++
	}
	if f.CaseManagerID != nil {
		where = append(where, fmt.Sprintf("(case_manager_id = $%d OR created_by = $%d)", idx, idx))
		args = append(args, *f.CaseManagerID)
		idx++
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM clients WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM clients WHERE %s ORDER BY legal_surname, legal_first_name, id LIMIT $%d OFFSET $%d`,
		clientCols, cond, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}

func affected(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
