package task

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("task not found")
	ErrInvalidTransition = errors.New("task is already closed")
)

type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// List returns a page of tasks matching f with the overdue and due-today
// counts over the whole filtered set. An empty status lists OPEN tasks.
func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]*Task, int, Counts, error) {
	if f.Status == "" {
		f.Status = StatusOpen
	}
	now := s.now()
	items, total, err := s.repo.List(ctx, f, now, limit, offset)
	if err != nil {
		return nil, 0, Counts{}, err
	}
	counts, err := s.repo.Count(ctx, f, now)
	if err != nil {
		return nil, 0, Counts{}, err
	}
	return items, total, counts, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Task, error) {
	return s.repo.GetByID(ctx, id)
}

// Create opens a manual task.
func (s *Service) Create(ctx context.Context, req CreateRequest, createdBy uuid.UUID) (*Task, error) {
	t := &Task{
		ClientID:    parseID(req.ClientID),
		Type:        req.Type,
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		DueDate:     req.DueDate,
		Status:      StatusOpen,
		Priority:    req.Priority,
		AssignedTo:  parseID(req.AssignedTo),
		Payload:     map[string]interface{}{},
		CreatedBy:   &createdBy,
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Update applies req to t. A task only leaves OPEN once, to DONE or
// DISMISSED, and closed tasks accept no further changes.
func (s *Service) Update(ctx context.Context, t *Task, req UpdateRequest, by uuid.UUID) (*Task, error) {
	if t.Status != StatusOpen {
		return nil, ErrInvalidTransition
	}
	next := *t
	if req.Priority != nil {
		next.Priority = *req.Priority
	}
	if req.DueDate != nil {
		next.DueDate = req.DueDate
	}
	if req.Status != nil && *req.Status != StatusOpen {
		now := s.now()
		next.Status = *req.Status
		next.CompletedAt = &now
		next.CompletedBy = &by
	}
	if err := s.repo.Update(ctx, &next); err != nil {
		return nil, err
	}
	next.UpdatedAt = s.now()
	return &next, nil
}

// Assign sets or clears the assignee.
func (s *Service) Assign(ctx context.Context, t *Task, assignee *uuid.UUID) (*Task, error) {
	if err := s.repo.Assign(ctx, t.ID, assignee); err != nil {
		return nil, err
	}
	next := *t
	next.AssignedTo = assignee
	next.UpdatedAt = s.now()
	return &next, nil
}

func parseID(s *string) *uuid.UUID {
	if s == nil || *s == "" {
		return nil
	}
	id, err := uuid.Parse(*s)
	if err != nil {
		return nil
	}
	return &id
}
