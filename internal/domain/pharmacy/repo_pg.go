package pharmacy

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

func (r *repoPG) category(ctx context.Context, table string, id uuid.UUID) (Category, error) {
	var c Category
	err := r.conn(ctx).QueryRow(ctx, `SELECT category FROM `+table+` WHERE id = $1 AND active`, id).Scan(&c)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrCatalogNotFound
	}
	return c, err
}

func (r *repoPG) RegimenCategory(ctx context.Context, id uuid.UUID) (Category, error) {
	return r.category(ctx, "regimens", id)
}

func (r *repoPG) MedicationCategory(ctx context.Context, id uuid.UUID) (Category, error) {
	return r.category(ctx, "medications", id)
}

func (r *repoPG) DeactivateActive(ctx context.Context, clientID uuid.UUID, category Category, at time.Time) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE prescriptions SET is_active = FALSE, end_date = $3, updated_at = NOW()
		WHERE client_id = $1 AND category = $2 AND is_active`, clientID, category, at)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const rxCols = `p.id, p.client_id, p.category, p.regimen_id, rg.name, p.medication_id, p.start_date, p.end_date,
	p.is_active, p.prescriber_id, p.instructions, p.reason_change, p.created_at, p.updated_at`

const rxFrom = ` FROM prescriptions p
	JOIN clients c ON c.id = p.client_id
	LEFT JOIN regimens rg ON rg.id = p.regimen_id`

func scanPrescription(row pgx.Row) (*Prescription, error) {
	var p Prescription
	err := row.Scan(&p.ID, &p.ClientID, &p.Category, &p.RegimenID, &p.RegimenName, &p.MedicationID,
		&p.StartDate, &p.EndDate, &p.IsActive, &p.PrescriberID, &p.Instructions, &p.ReasonChange,
		&p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func (r *repoPG) CreatePrescription(ctx context.Context, p *Prescription) error {
	p.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO prescriptions (id, client_id, category, regimen_id, medication_id, start_date, end_date,
			is_active, prescriber_id, instructions, reason_change)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at`,
		p.ID, p.ClientID, p.Category, p.RegimenID, p.MedicationID, p.StartDate, p.EndDate,
		p.IsActive, p.PrescriberID, p.Instructions, p.ReasonChange).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *repoPG) GetPrescription(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	p, err := scanPrescription(r.conn(ctx).QueryRow(ctx, `SELECT `+rxCols+rxFrom+` WHERE p.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

func (r *repoPG) ListPrescriptions(ctx context.Context, f Filter, limit, offset int) ([]*Prescription, int, error) {
	where := []string{"1=1"}
	var args []interface{}
	idx := 1
	add := func(cond string, v interface{}) {
		where = append(where, fmt.Sprintf(cond, idx))
		args = append(args, v)
		idx++
	}
	if f.ClientID != nil {
		add("p.client_id = $%d", *f.ClientID)
	}
	if f.Category != "" {
		add("p.category = $%d", f.Category)
	}
	if f.Active != nil {
		add("p.is_active = $%d", *f.Active)
	}
	if f.FacilityID != nil {
		add("c.current_facility_id = $%d", *f.FacilityID)
	}
	if f.AssignedUserID != nil {
		where = append(where, fmt.Sprintf("(c.case_manager_id = $%d OR p.prescriber_id = $%d)", idx, idx))
		args = append(args, *f.AssignedUserID)
		idx++
	}
	cond := ` WHERE ` + strings.Join(where, " AND ")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*)`+rxFrom+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := fmt.Sprintf(`SELECT %s%s%s ORDER BY p.start_date DESC, p.id LIMIT $%d OFFSET $%d`,
		rxCols, rxFrom, cond, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Prescription
	for rows.Next() {
		p, err := scanPrescription(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

func (r *repoPG) CreateDispense(ctx context.Context, d *Dispense) error {
	d.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO dispenses (id, prescription_id, dispensed_by, dispensed_at, quantity, unit, days_supply,
			next_refill_date, note)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at`,
		d.ID, d.PrescriptionID, d.DispensedBy, d.DispensedAt, d.Quantity, d.Unit, d.DaysSupply,
		d.NextRefillDate, d.Note).Scan(&d.CreatedAt)
}

func (r *repoPG) ListDispenses(ctx context.Context, prescriptionID uuid.UUID) ([]*Dispense, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, prescription_id, dispensed_by, dispensed_at, quantity::float8, unit, days_supply,
			next_refill_date, note, created_at
		FROM dispenses WHERE prescription_id = $1 ORDER BY dispensed_at DESC, id`, prescriptionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Dispense
	for rows.Next() {
		var d Dispense
		if err := rows.Scan(&d.ID, &d.PrescriptionID, &d.DispensedBy, &d.DispensedAt, &d.Quantity, &d.Unit,
			&d.DaysSupply, &d.NextRefillDate, &d.Note, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}
