package pharmacy

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	// RegimenCategory and MedicationCategory return the catalog category of an
	// active entry, or ErrCatalogNotFound.
	RegimenCategory(ctx context.Context, id uuid.UUID) (Category, error)
	MedicationCategory(ctx context.Context, id uuid.UUID) (Category, error)

	// DeactivateActive ends every active prescription of category for the
	// client and returns how many were ended.
	DeactivateActive(ctx context.Context, clientID uuid.UUID, category Category, at time.Time) (int64, error)
	CreatePrescription(ctx context.Context, p *Prescription) error
	GetPrescription(ctx context.Context, id uuid.UUID) (*Prescription, error)
	ListPrescriptions(ctx context.Context, f Filter, limit, offset int) ([]*Prescription, int, error)

	CreateDispense(ctx context.Context, d *Dispense) error
	ListDispenses(ctx context.Context, prescriptionID uuid.UUID) ([]*Dispense, error)
}
