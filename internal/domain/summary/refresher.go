package summary

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cebuhealth/hivcare/internal/platform/db"
)

// Refresher recomputes stored summaries.
type Refresher struct {
	store  Store
	tx     db.TxRunner
	logger zerolog.Logger
	now    func() time.Time
}

func NewRefresher(store Store, tx db.TxRunner, logger zerolog.Logger) *Refresher {
	return &Refresher{store: store, tx: tx, logger: logger, now: time.Now}
}

// Run overwrites the summary of every client in one transaction and returns
// how many were written. Any failure rolls the whole run back.
func (r *Refresher) Run(ctx context.Context) (int, error) {
	now := r.now()
	count := 0
	err := r.tx.RunInTx(ctx, func(ctx context.Context) error {
		ids, err := r.store.ClientIDs(ctx)
		if err != nil {
			return fmt.Errorf("list clients: %w", err)
		}
		for _, id := range ids {
			if err := r.refresh(ctx, id, now); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	r.logger.Info().Int("clients", count).Msg("clinical summaries refreshed")
	return count, nil
}

// Get returns the stored summary of a client.
func (r *Refresher) Get(ctx context.Context, clientID uuid.UUID) (*Summary, error) {
	return r.store.Get(ctx, clientID)
}

// RefreshClient recomputes one client's summary.
func (r *Refresher) RefreshClient(ctx context.Context, clientID uuid.UUID) (*Summary, error) {
	var out *Summary
	err := r.tx.RunInTx(ctx, func(ctx context.Context) error {
		h, err := r.store.History(ctx, clientID)
		if err != nil {
			return fmt.Errorf("load history for %s: %w", clientID, err)
		}
		out = Derive(clientID, *h, r.now())
		return r.store.Upsert(ctx, out)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Refresher) refresh(ctx context.Context, clientID uuid.UUID, now time.Time) error {
	h, err := r.store.History(ctx, clientID)
	if err != nil {
		return fmt.Errorf("load history for %s: %w", clientID, err)
	}
	if err := r.store.Upsert(ctx, Derive(clientID, *h, now)); err != nil {
		return fmt.Errorf("upsert summary for %s: %w", clientID, err)
	}
	return nil
}
