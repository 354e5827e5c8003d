package pharmacy

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/cebuhealth/hivcare/internal/domain/client"
	"github.com/cebuhealth/hivcare/internal/platform/db"
)

var (
	ErrNotFound         = errors.New("prescription not found")
	ErrCatalogNotFound  = errors.New("regimen or medication not found")
	ErrProductRequired  = errors.New("regimen_id or medication_id is required")
	ErrInactive         = errors.New("prescription is not active")
	ErrInvalidDateRange = errors.New("end_date is before start_date")
)

type Service struct {
	repo    Repository
	clients client.Lookup
	tx      db.TxRunner
	now     func() time.Time
}

func NewService(repo Repository, clients client.Lookup, tx db.TxRunner) *Service {
	return &Service{repo: repo, clients: clients, tx: tx, now: time.Now}
}

// Prescribe creates a prescription for cl. For ARV and PrEP the client's
// previous active prescription of the same category is ended in the same
// transaction.
func (s *Service) Prescribe(ctx context.Context, cl *client.Client, req PrescribeRequest, prescriberID *uuid.UUID) (*Prescription, error) {
	now := s.now()
	p := &Prescription{
		ClientID:     cl.ID,
		Category:     req.Category,
		RegimenID:    parseID(req.RegimenID),
		MedicationID: parseID(req.MedicationID),
		StartDate:    now,
		EndDate:      req.EndDate,
		IsActive:     true,
		PrescriberID: prescriberID,
		Instructions: req.Instructions,
		ReasonChange: req.ReasonChange,
	}
	if req.StartDate != nil {
		p.StartDate = *req.StartDate
	}
	if p.RegimenID == nil && p.MedicationID == nil {
		return nil, ErrProductRequired
	}
	if p.EndDate != nil && p.EndDate.Before(p.StartDate) {
		return nil, ErrInvalidDateRange
	}

	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.checkCatalog(ctx, p); err != nil {
			return err
		}
		if p.Category.Exclusive() {
			if _, err := s.repo.DeactivateActive(ctx, cl.ID, p.Category, now); err != nil {
				return err
			}
		}
		return s.repo.CreatePrescription(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// checkCatalog requires the regimen and medication to exist in the
// prescription's category.
func (s *Service) checkCatalog(ctx context.Context, p *Prescription) error {
	if p.RegimenID != nil {
		cat, err := s.repo.RegimenCategory(ctx, *p.RegimenID)
		if err != nil {
			return err
		}
		if cat != p.Category {
			return ErrCatalogNotFound
		}
	}
	if p.MedicationID != nil {
		cat, err := s.repo.MedicationCategory(ctx, *p.MedicationID)
		if err != nil {
			return err
		}
		if cat != p.Category {
			return ErrCatalogNotFound
		}
	}
	return nil
}

func (s *Service) GetPrescription(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	return s.repo.GetPrescription(ctx, id)
}

func (s *Service) ListPrescriptions(ctx context.Context, f Filter, limit, offset int) ([]*Prescription, int, error) {
	return s.repo.ListPrescriptions(ctx, f, limit, offset)
}

// Dispense records medication handed out against an active prescription and
// counts as a client visit.
func (s *Service) Dispense(ctx context.Context, rx *Prescription, req DispenseRequest, dispensedBy *uuid.UUID) (*Dispense, error) {
	if !rx.IsActive {
		return nil, ErrInactive
	}
	d := &Dispense{
		PrescriptionID: rx.ID,
		DispensedBy:    dispensedBy,
		DispensedAt:    s.now(),
		Quantity:       req.Quantity,
		Unit:           req.Unit,
		DaysSupply:     req.DaysSupply,
		Note:           req.Note,
	}
	if req.DispensedAt != nil {
		d.DispensedAt = *req.DispensedAt
	}
	if d.DaysSupply != nil {
		next := NextRefill(d.DispensedAt, *d.DaysSupply)
		d.NextRefillDate = &next
	}

	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.repo.CreateDispense(ctx, d); err != nil {
			return err
		}
		return s.clients.TouchLastVisit(ctx, rx.ClientID, d.DispensedAt)
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) ListDispenses(ctx context.Context, prescriptionID uuid.UUID) ([]*Dispense, error) {
	return s.repo.ListDispenses(ctx, prescriptionID)
}

func parseID(s *string) *uuid.UUID {
	if s == nil || *s == "" {
		return nil
	}
	id, err := uuid.Parse(*s)
	if err != nil {
		return nil
	}
	return &id
}
