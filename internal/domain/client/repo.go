package client

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	// Create inserts the client together with its empty clinical summary.
	Create(ctx context.Context, c *Client) error
	GetByID(ctx context.Context, id uuid.UUID) (*Client, error)
	// ExistsDuplicate reports whether another client already uses uic, or
	// clientCode within facilityID.
	ExistsDuplicate(ctx context.Context, facilityID uuid.UUID, clientCode, uic string, excludeID *uuid.UUID) (bool, error)
	Update(ctx context.Context, c *Client) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error
	Assign(ctx context.Context, id uuid.UUID, caseManagerID *uuid.UUID) error
	Transfer(ctx context.Context, id, toFacilityID uuid.UUID, status Status) error
	// TouchLastVisit moves last_visit_at forward to at; it never moves it back.
	TouchLastVisit(ctx context.Context, id uuid.UUID, at time.Time) error
	List(ctx context.Context, f Filter, limit, offset int) ([]*Client, int, error)
}

// Lookup is the slice of the repository other domains use to resolve the
// client a record hangs off and to record visits.
type Lookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Client, error)
	TouchLastVisit(ctx context.Context, id uuid.UUID, at time.Time) error
}
