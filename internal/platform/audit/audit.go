// Package audit appends who-did-what entries to the audit_logs table. Writes
// are best-effort: a failed append is logged and never reaches the caller.
package audit

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

type ActorType string

const (
	ActorUser   ActorType = "USER"
	ActorSystem ActorType = "SYSTEM"
)

type Action string

const (
	ActionLogin  Action = "LOGIN"
	ActionRead   Action = "READ"
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
	ActionExport Action = "EXPORT"
)

// Entry is one audit record. Before and After are marshalled to JSON as-is.
type Entry struct {
	UserID    string      `json:"user_id,omitempty"`
	ActorType ActorType   `json:"actor_type"`
	Action    Action      `json:"action"`
	Entity    string      `json:"entity,omitempty"`
	EntityID  string      `json:"entity_id,omitempty"`
	Before    interface{} `json:"before,omitempty"`
	After     interface{} `json:"after,omitempty"`
	IP        string      `json:"ip,omitempty"`
	UserAgent string      `json:"user_agent,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// Store persists entries.
type Store interface {
	Insert(ctx context.Context, e *Entry) error
}

// Logger is the audit sink handed to handlers and jobs.
type Logger struct {
	store  Store
	logger zerolog.Logger
}

func NewLogger(store Store, logger zerolog.Logger) *Logger {
	return &Logger{store: store, logger: logger}
}

// Log appends e. It never returns an error; failures are logged at error level.
// A nil Logger or a Logger without a store only emits the log line.
func (l *Logger) Log(ctx context.Context, e Entry) {
	if l == nil {
		return
	}
	if e.ActorType == "" {
		e.ActorType = ActorUser
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	l.logger.Debug().
		Str("type", "audit").
		Str("actor_type", string(e.ActorType)).
		Str("action", string(e.Action)).
		Str("user_id", e.UserID).
		Str("entity", e.Entity).
		Str("entity_id", e.EntityID).
		Msg("audit")

	if l.store == nil {
		return
	}
	if err := l.store.Insert(ctx, &e); err != nil {
		l.logger.Error().Err(err).
			Str("action", string(e.Action)).
			Str("entity", e.Entity).
			Str("entity_id", e.EntityID).
			Msg("failed to write audit entry")
	}
}

// LogUser records an action performed by an authenticated user.
func (l *Logger) LogUser(ctx context.Context, userID string, action Action, entity, entityID string, before, after interface{}) {
	l.Log(ctx, Entry{
		UserID:    userID,
		ActorType: ActorUser,
		Action:    action,
		Entity:    entity,
		EntityID:  entityID,
		Before:    before,
		After:     after,
	})
}

// LogSystem records an action performed by a batch job.
func (l *Logger) LogSystem(ctx context.Context, action Action, entity, entityID string, after interface{}) {
	l.Log(ctx, Entry{
		ActorType: ActorSystem,
		Action:    action,
		Entity:    entity,
		EntityID:  entityID,
		After:     after,
	})
}
