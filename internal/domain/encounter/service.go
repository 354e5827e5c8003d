package encounter

import (
	"context"

	"github.com/google/uuid"

	"github.com/cebuhealth/hivcare/internal/domain/client"
	"github.com/cebuhealth/hivcare/internal/platform/db"
)

type Service struct {
	repo    Repository
	clients client.Lookup
	tx      db.TxRunner
}

func NewService(repo Repository, clients client.Lookup, tx db.TxRunner) *Service {
	return &Service{repo: repo, clients: clients, tx: tx}
}

// Create stores the encounter and bumps the client's last visit in one
// transaction.
func (s *Service) Create(ctx context.Context, cl *client.Client, req CreateRequest, clinicianID *uuid.UUID) (*Encounter, error) {
	e := &Encounter{
		ClientID:    cl.ID,
		ClinicianID: clinicianID,
		Date:        req.Date,
		Type:        req.Type,
		Note:        req.Note,
	}
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, e); err != nil {
			return err
		}
		return s.clients.TouchLastVisit(ctx, cl.ID, e.Date)
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Service) ListByClient(ctx context.Context, clientID uuid.UUID, limit, offset int) ([]*Encounter, int, error) {
	return s.repo.ListByClient(ctx, clientID, limit, offset)
}
