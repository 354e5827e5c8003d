package lab

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound     = errors.New("lab panel not found")
	ErrInvalidValue = errors.New("either value_num or value_text is required")
	ErrInvalidRange = errors.New("ref_low must not exceed ref_high")
)

type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// reported reports whether a panel in status s carries a result.
func reported(s Status) bool {
	return s == StatusPositive || s == StatusNegative || s == StatusIndeterminate
}

func (s *Service) CreatePanel(ctx context.Context, clientID uuid.UUID, req CreatePanelRequest, createdBy *uuid.UUID) (*Panel, error) {
	p := &Panel{
		ClientID:    clientID,
		PanelType:   strings.ToUpper(strings.TrimSpace(req.PanelType)),
		LabName:     req.LabName,
		Status:      req.Status,
		OrderedAt:   req.OrderedAt,
		CollectedAt: req.CollectedAt,
		ReportedAt:  req.ReportedAt,
		CreatedBy:   createdBy,
	}
	if p.Status == "" {
		p.Status = StatusPending
	}
	if req.EncounterID != nil {
		if id, err := uuid.Parse(*req.EncounterID); err == nil {
			p.EncounterID = &id
		}
	}
	s.stampReported(p)
	if err := s.repo.CreatePanel(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Panel, error) {
	return s.repo.GetPanel(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]*Panel, int, error) {
	f.PanelType = strings.ToUpper(f.PanelType)
	return s.repo.ListPanels(ctx, f, limit, offset)
}

// Update applies req to a loaded panel and returns the updated copy.
func (s *Service) Update(ctx context.Context, p *Panel, req UpdatePanelRequest) (*Panel, error) {
	next := *p
	if req.LabName != nil {
		next.LabName = req.LabName
	}
	if req.Status != nil {
		next.Status = *req.Status
	}
	if req.CollectedAt != nil {
		next.CollectedAt = req.CollectedAt
	}
	if req.ReportedAt != nil {
		next.ReportedAt = req.ReportedAt
	}
	s.stampReported(&next)
	if err := s.repo.UpdatePanel(ctx, &next); err != nil {
		return nil, err
	}
	next.UpdatedAt = s.now()
	return &next, nil
}

// AddResult appends a result to p. Abnormal is derived from the reference
// range unless the caller set it.
func (s *Service) AddResult(ctx context.Context, p *Panel, req AddResultRequest) (*Result, error) {
	if req.ValueNum == nil && (req.ValueText == nil || strings.TrimSpace(*req.ValueText) == "") {
		return nil, ErrInvalidValue
	}
	if req.RefLow != nil && req.RefHigh != nil && *req.RefLow > *req.RefHigh {
		return nil, ErrInvalidRange
	}
	r := &Result{
		PanelID:   p.ID,
		TestCode:  strings.ToUpper(strings.TrimSpace(req.TestCode)),
		ValueNum:  req.ValueNum,
		ValueText: req.ValueText,
		Unit:      req.Unit,
		RefLow:    req.RefLow,
		RefHigh:   req.RefHigh,
	}
	switch {
	case req.Abnormal != nil:
		r.Abnormal = *req.Abnormal
	case r.ValueNum != nil:
		r.Abnormal = OutOfRange(*r.ValueNum, r.RefLow, r.RefHigh)
	}
	if err := s.repo.AddResult(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// stampReported fills reported_at for panels that carry a result.
func (s *Service) stampReported(p *Panel) {
	if reported(p.Status) && p.ReportedAt == nil {
		now := s.now()
		p.ReportedAt = &now
	}
}
