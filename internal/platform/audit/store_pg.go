package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type storePG struct{ pool *pgxpool.Pool }

// NewStorePG returns a Store writing to audit_logs. It always uses the pool,
// never a transaction from the context, so a failed insert cannot abort the
// caller's transaction.
func NewStorePG(pool *pgxpool.Pool) Store {
	return &storePG{pool: pool}
}

func (s *storePG) Insert(ctx context.Context, e *Entry) error {
	before, err := marshalJSON(e.Before)
	if err != nil {
		return fmt.Errorf("audit: marshal before: %w", err)
	}
	after, err := marshalJSON(e.After)
	if err != nil {
		return fmt.Errorf("audit: marshal after: %w", err)
	}

	var userID *uuid.UUID
	if e.UserID != "" {
		id, err := uuid.Parse(e.UserID)
		if err != nil {
			return fmt.Errorf("audit: invalid user id %q: %w", e.UserID, err)
		}
		userID = &id
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO audit_logs (id, user_id, actor_type, action, entity, entity_id,
			before, after, ip, user_agent, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		uuid.New(), userID, e.ActorType, e.Action, nullable(e.Entity), nullable(e.EntityID),
		before, after, nullable(e.IP), nullable(e.UserAgent), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

func marshalJSON(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
