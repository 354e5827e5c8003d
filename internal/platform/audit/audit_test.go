package audit

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

type memStore struct {
	mu      sync.Mutex
	entries []Entry
	err     error
}

func (m *memStore) Insert(_ context.Context, e *Entry) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *e)
	return nil
}

func TestLog_AppendsEntryWithDefaults(t *testing.T) {
	store := &memStore{}
	l := NewLogger(store, zerolog.Nop())

	l.Log(context.Background(), Entry{UserID: "u1", Action: ActionRead, Entity: "Client", EntityID: "c1"})

	if len(store.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(store.entries))
	}
	got := store.entries[0]
	if got.ActorType != ActorUser {
		t.Errorf("expected actor USER, got %s", got.ActorType)
	}
	if got.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
}

func TestLog_StoreFailureIsSwallowed(t *testing.T) {
	var buf bytes.Buffer
	store := &memStore{err: errors.New("connection refused")}
	l := NewLogger(store, zerolog.New(&buf))

	l.LogUser(context.Background(), "u1", ActionUpdate, "Client", "c1", map[string]string{"status": "ACTIVE"}, nil)

	if !strings.Contains(buf.String(), "failed to write audit entry") {
		t.Errorf("expected failure to be logged, got %q", buf.String())
	}
}

func TestLogSystem(t *testing.T) {
	store := &memStore{}
	l := NewLogger(store, zerolog.Nop())

	l.LogSystem(context.Background(), ActionCreate, "Job", "generate-tasks", map[string]int{"ltfu": 2})

	got := store.entries[0]
	if got.ActorType != ActorSystem || got.UserID != "" {
		t.Errorf("unexpected entry %+v", got)
	}
}

func TestLog_NilLoggerAndNilStore(t *testing.T) {
	var l *Logger
	l.Log(context.Background(), Entry{Action: ActionRead})

	NewLogger(nil, zerolog.Nop()).Log(context.Background(), Entry{Action: ActionRead})
}

func TestMarshalJSON(t *testing.T) {
	b, err := marshalJSON(nil)
	if err != nil || b != nil {
		t.Errorf("expected nil for nil input, got %s %v", b, err)
	}
	b, err = marshalJSON(map[string]int{"a": 1})
	if err != nil || string(b) != `{"a":1}` {
		t.Errorf("unexpected %s %v", b, err)
	}
}
