package task

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, t *Task) error
	GetByID(ctx context.Context, id uuid.UUID) (*Task, error)
	List(ctx context.Context, f Filter, now time.Time, limit, offset int) ([]*Task, int, error)
	// Count returns overdue and due-today counts for f, ignoring f.Overdue.
	Count(ctx context.Context, f Filter, now time.Time) (Counts, error)
	Update(ctx context.Context, t *Task) error
	Assign(ctx context.Context, id uuid.UUID, assignee *uuid.UUID) error
}

// Candidate is a client a scan found in need of a task.
type Candidate struct {
	ClientID   uuid.UUID
	ClientCode string
	Surname    string
	FirstName  string
}

// RefillCandidate is a dispense whose supply runs out soon.
type RefillCandidate struct {
	ClientID       uuid.UUID
	Surname        string
	FirstName      string
	PrescriptionID uuid.UUID
	Category       string
	RegimenName    *string
	DaysSupply     *int
	NextRefillDate time.Time
}

// OpenTaskQuery describes an existing OPEN task that makes a new one
// redundant. PrescriptionID and MissingLab, when set, must also match the
// payload.
type OpenTaskQuery struct {
	ClientID       uuid.UUID
	Type           Type
	PrescriptionID *uuid.UUID
	MissingLab     string
}

// GeneratorStore is what the generator reads and writes.
type GeneratorStore interface {
	// LTFUCandidates returns ACTIVE clients with neither an encounter nor a
	// dispense after cutoff.
	LTFUCandidates(ctx context.Context, cutoff time.Time) ([]Candidate, error)
	// ViralLoadCandidates returns ACTIVE clients on an active ARV
	// prescription with no HIV viral load panel reported after cutoff.
	ViralLoadCandidates(ctx context.Context, cutoff time.Time) ([]Candidate, error)
	// UpcomingRefills returns ARV and PrEP dispenses with next_refill_date
	// in [from, to].
	UpcomingRefills(ctx context.Context, from, to time.Time) ([]RefillCandidate, error)
	HasOpenTask(ctx context.Context, q OpenTaskQuery) (bool, error)
	Create(ctx context.Context, t *Task) error
}
