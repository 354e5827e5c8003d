package client

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cebuhealth/hivcare/internal/platform/db"
)

var (
	ErrNotFound          = errors.New("client not found")
	ErrDuplicate         = errors.New("client code or UIC already registered")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNoFacility        = errors.New("caller has no facility")
	ErrSameFacility      = errors.New("client is already at that facility")
)

const dateLayout = "2006-01-02"

type CreateRequest struct {
	ClientCode      string  `json:"client_code" validate:"required,max=50"`
	UIC             string  `json:"uic" validate:"required,max=50"`
	PhilHealth      *string `json:"phil_health" validate:"omitempty,max=20"`
	LegalSurname    string  `json:"legal_surname" validate:"required,max=100"`
	LegalFirstName  string  `json:"legal_first_name" validate:"required,max=100"`
	LegalMiddleName *string `json:"legal_middle_name" validate:"omitempty,max=100"`
	PreferredName   *string `json:"preferred_name" validate:"omitempty,max=100"`
	DateOfBirth     *string `json:"date_of_birth" validate:"omitempty,datetime=2006-01-02"`
	SexAtBirth      Sex     `json:"sex_at_birth" validate:"required,oneof=MALE FEMALE INTERSEX UNKNOWN"`
	ContactNumber   *string `json:"contact_number" validate:"omitempty,max=20"`
	Email           *string `json:"email" validate:"omitempty,email"`
	HomeAddress     *string `json:"home_address"`
	Notes           *string `json:"notes"`
	DateEnrolled    *string `json:"date_enrolled" validate:"omitempty,datetime=2006-01-02"`
	CaseManagerID   *string `json:"case_manager_id" validate:"omitempty,uuid"`
}

// UpdateRequest carries the demographic fields; nil fields are left alone.
type UpdateRequest struct {
	ClientCode      *string `json:"client_code" validate:"omitempty,max=50"`
	UIC             *string `json:"uic" validate:"omitempty,max=50"`
	PhilHealth      *string `json:"phil_health" validate:"omitempty,max=20"`
	LegalSurname    *string `json:"legal_surname" validate:"omitempty,max=100"`
	LegalFirstName  *string `json:"legal_first_name" validate:"omitempty,max=100"`
	LegalMiddleName *string `json:"legal_middle_name" validate:"omitempty,max=100"`
	PreferredName   *string `json:"preferred_name" validate:"omitempty,max=100"`
	DateOfBirth     *string `json:"date_of_birth" validate:"omitempty,datetime=2006-01-02"`
	SexAtBirth      *Sex    `json:"sex_at_birth" validate:"omitempty,oneof=MALE FEMALE INTERSEX UNKNOWN"`
	ContactNumber   *string `json:"contact_number" validate:"omitempty,max=20"`
	Email           *string `json:"email" validate:"omitempty,email"`
	HomeAddress     *string `json:"home_address"`
	Notes           *string `json:"notes"`
}

type StatusRequest struct {
	Status Status `json:"status" validate:"required,oneof=ACTIVE TRANSFERRED_OUT EXPIRED LOST_TO_FOLLOW_UP INACTIVE"`
}

type AssignRequest struct {
	CaseManagerID *string `json:"case_manager_id" validate:"omitempty,uuid"`
}

type TransferRequest struct {
	FacilityID string `json:"facility_id" validate:"required,uuid"`
}

type Service struct {
	repo Repository
	tx   db.TxRunner
	now  func() time.Time
}

func NewService(repo Repository, tx db.TxRunner) *Service {
	return &Service{repo: repo, tx: tx, now: time.Now}
}

// Create enrolls a client at facilityID, the caller's facility.
func (s *Service) Create(ctx context.Context, req CreateRequest, createdBy uuid.UUID, facilityID *uuid.UUID) (*Client, error) {
	if facilityID == nil {
		return nil, ErrNoFacility
	}
	c := &Client{
		ClientCode:        strings.TrimSpace(req.ClientCode),
		UIC:               strings.TrimSpace(req.UIC),
		PhilHealth:        req.PhilHealth,
		LegalSurname:      strings.TrimSpace(req.LegalSurname),
		LegalFirstName:    strings.TrimSpace(req.LegalFirstName),
		LegalMiddleName:   req.LegalMiddleName,
		PreferredName:     req.PreferredName,
		SexAtBirth:        req.SexAtBirth,
		ContactNumber:     req.ContactNumber,
		Email:             req.Email,
		HomeAddress:       req.HomeAddress,
		Notes:             req.Notes,
		Status:            StatusActive,
		FacilityID:        *facilityID,
		CurrentFacilityID: *facilityID,
		CreatedBy:         &createdBy,
		DateEnrolled:      s.now().UTC().Truncate(24 * time.Hour),
	}
	c.DateOfBirth = parseDate(req.DateOfBirth)
	if d := parseDate(req.DateEnrolled); d != nil {
		c.DateEnrolled = *d
	}
	c.CaseManagerID = parseID(req.CaseManagerID)

	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		dup, err := s.repo.ExistsDuplicate(ctx, c.FacilityID, c.ClientCode, c.UIC, nil)
		if err != nil {
			return err
		}
		if dup {
			return ErrDuplicate
		}
		return s.repo.Create(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Client, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]*Client, int, error) {
	return s.repo.List(ctx, f, limit, offset)
}

// Update applies req to c, which the caller has already loaded and
// authorized, and returns the updated copy.
func (s *Service) Update(ctx context.Context, c *Client, req UpdateRequest) (*Client, error) {
	next := *c
	setString(&next.ClientCode, req.ClientCode)
	setString(&next.UIC, req.UIC)
	setString(&next.LegalSurname, req.LegalSurname)
	setString(&next.LegalFirstName, req.LegalFirstName)
	setOptional(&next.PhilHealth, req.PhilHealth)
	setOptional(&next.LegalMiddleName, req.LegalMiddleName)
	setOptional(&next.PreferredName, req.PreferredName)
	setOptional(&next.ContactNumber, req.ContactNumber)
	setOptional(&next.Email, req.Email)
	setOptional(&next.HomeAddress, req.HomeAddress)
	setOptional(&next.Notes, req.Notes)
	if req.SexAtBirth != nil {
		next.SexAtBirth = *req.SexAtBirth
	}
	if d := parseDate(req.DateOfBirth); d != nil {
		next.DateOfBirth = d
	}

	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if next.ClientCode != c.ClientCode || next.UIC != c.UIC {
			dup, err := s.repo.ExistsDuplicate(ctx, next.FacilityID, next.ClientCode, next.UIC, &next.ID)
			if err != nil {
				return err
			}
			if dup {
				return ErrDuplicate
			}
		}
		return s.repo.Update(ctx, &next)
	})
	if err != nil {
		return nil, err
	}
	next.UpdatedAt = s.now()
	return &next, nil
}

// ChangeStatus moves c along the lifecycle.
func (s *Service) ChangeStatus(ctx context.Context, c *Client, status Status) (*Client, error) {
	if !CanTransition(c.Status, status) {
		return nil, ErrInvalidTransition
	}
	if err := s.repo.UpdateStatus(ctx, c.ID, status); err != nil {
		return nil, err
	}
	next := *c
	next.Status = status
	next.UpdatedAt = s.now()
	return &next, nil
}

// Assign sets or clears the case manager.
func (s *Service) Assign(ctx context.Context, c *Client, caseManagerID *uuid.UUID) (*Client, error) {
	if err := s.repo.Assign(ctx, c.ID, caseManagerID); err != nil {
		return nil, err
	}
	next := *c
	next.CaseManagerID = caseManagerID
	next.UpdatedAt = s.now()
	return &next, nil
}

// Transfer moves the client to another facility and marks it
// TRANSFERRED_OUT. Expired clients cannot be transferred.
func (s *Service) Transfer(ctx context.Context, c *Client, to uuid.UUID) (*Client, error) {
	if c.CurrentFacilityID == to {
		return nil, ErrSameFacility
	}
	if c.Status == StatusExpired {
		return nil, ErrInvalidTransition
	}
	if err := s.repo.Transfer(ctx, c.ID, to, StatusTransferredOut); err != nil {
		return nil, err
	}
	next := *c
	next.CurrentFacilityID = to
	next.Status = StatusTransferredOut
	next.UpdatedAt = s.now()
	return &next, nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}

func setOptional(dst **string, v *string) {
	if v != nil {
		*dst = v
	}
}

func parseDate(s *string) *time.Time {
	if s == nil || *s == "" {
		return nil
	}
	t, err := time.Parse(dateLayout, *s)
	if err != nil {
		return nil
	}
	return &t
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
