package lab

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	CreatePanel(ctx context.Context, p *Panel) error
	// GetPanel returns the panel with its results.
	GetPanel(ctx context.Context, id uuid.UUID) (*Panel, error)
	UpdatePanel(ctx context.Context, p *Panel) error
	ListPanels(ctx context.Context, f Filter, limit, offset int) ([]*Panel, int, error)
	AddResult(ctx context.Context, r *Result) error
}
