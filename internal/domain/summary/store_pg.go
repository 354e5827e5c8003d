package summary

import (
	"context"
	"errors"

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

type storePG struct{ pool *pgxpool.Pool }

func NewStorePG(pool *pgxpool.Pool) Store {
	return &storePG{pool: pool}
}

func (s *storePG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return s.pool
}

func (s *storePG) ClientIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.conn(ctx).Query(ctx, `SELECT id FROM clients ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

const observationQuery = `
	SELECT lp.id, lr.id, lp.reported_at, lr.value_num::float8
	FROM lab_panels lp
	LEFT JOIN lab_results lr ON lr.panel_id = lp.id
	WHERE lp.client_id = $1 AND lp.panel_type = $2
		AND lp.status = 'POSITIVE' AND lp.reported_at IS NOT NULL
	ORDER BY lp.reported_at, lp.id, lr.id`

func (s *storePG) observations(ctx context.Context, clientID uuid.UUID, panelType string) ([]Observation, error) {
	rows, err := s.conn(ctx).Query(ctx, observationQuery, clientID, panelType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Observation
	for rows.Next() {
		var o Observation
		var resultID *uuid.UUID
		if err := rows.Scan(&o.PanelID, &resultID, &o.ReportedAt, &o.Value); err != nil {
			return nil, err
		}
		if resultID != nil {
			o.ResultID = *resultID
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *storePG) History(ctx context.Context, clientID uuid.UUID) (*History, error) {
	var h History
	var err error
	if h.CD4, err = s.observations(ctx, clientID, PanelCD4); err != nil {
		return nil, err
	}
	if h.ViralLoad, err = s.observations(ctx, clientID, PanelViralLoad); err != nil {
		return nil, err
	}

	rows, err := s.conn(ctx).Query(ctx, `
		SELECT id, category, regimen_id, start_date, end_date, is_active
		FROM prescriptions
		WHERE client_id = $1 AND category IN ('ARV', 'PREP')`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var p Prescription
		if err := rows.Scan(&p.ID, &p.Category, &p.RegimenID, &p.StartDate, &p.EndDate, &p.IsActive); err != nil {
			return nil, err
		}
		h.Prescriptions = append(h.Prescriptions, p)
	}
	return &h, rows.Err()
}

func (s *storePG) Upsert(ctx context.Context, sum *Summary) error {
	_, err := s.conn(ctx).Exec(ctx, `
		INSERT INTO clinical_summaries (client_id, baseline_cd4, baseline_cd4_date, first_viral_load_date,
			viral_load_status, current_arv_regimen_id, current_prep_regimen_id, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (client_id) DO UPDATE SET
			baseline_cd4 = EXCLUDED.baseline_cd4,
			baseline_cd4_date = EXCLUDED.baseline_cd4_date,
			first_viral_load_date = EXCLUDED.first_viral_load_date,
			viral_load_status = EXCLUDED.viral_load_status,
			current_arv_regimen_id = EXCLUDED.current_arv_regimen_id,
			current_prep_regimen_id = EXCLUDED.current_prep_regimen_id,
			updated_at = EXCLUDED.updated_at`,
		sum.ClientID, sum.BaselineCD4, sum.BaselineCD4Date, sum.FirstViralLoadDate,
		sum.ViralLoadStatus, sum.CurrentARVRegimenID, sum.CurrentPrEPRegimenID, sum.UpdatedAt)
	return err
}

func (s *storePG) Get(ctx context.Context, clientID uuid.UUID) (*Summary, error) {
	var sum Summary
	err := s.conn(ctx).QueryRow(ctx, `
		SELECT client_id, baseline_cd4::float8, baseline_cd4_date, first_viral_load_date, viral_load_status,
			current_arv_regimen_id, current_prep_regimen_id, updated_at
		FROM clinical_summaries WHERE client_id = $1`, clientID).
		Scan(&sum.ClientID, &sum.BaselineCD4, &sum.BaselineCD4Date, &sum.FirstViralLoadDate,
			&sum.ViralLoadStatus, &sum.CurrentARVRegimenID, &sum.CurrentPrEPRegimenID, &sum.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sum, nil
}
