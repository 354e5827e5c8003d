package encounter

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, e *Encounter) error
	ListByClient(ctx context.Context, clientID uuid.UUID, limit, offset int) ([]*Encounter, int, error)
}
