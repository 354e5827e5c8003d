package summary

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("clinical summary not found")

type Store interface {
	ClientIDs(ctx context.Context) ([]uuid.UUID, error)
	// History loads the reported positive CD4 and viral load panels and all
	// ARV/PrEP prescriptions of a client.
	History(ctx context.Context, clientID uuid.UUID) (*History, error)
	// Upsert replaces the stored summary with s.
	Upsert(ctx context.Context, s *Summary) error
	Get(ctx context.Context, clientID uuid.UUID) (*Summary, error)
}
