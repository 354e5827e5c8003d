// Package task manages follow-up tasks for care teams, both entered by staff
// and produced by the scheduled generator.
package task

import (
	"time"

	"github.com/google/uuid"

	"github.com/cebuhealth/hivcare/internal/platform/rbac"
)

type Type string

const (
	TypeFollowUp     Type = "FOLLOW_UP"
	TypeRefillPrEP   Type = "REFILL_PREP"
	TypeRefillARV    Type = "REFILL_ARV"
	TypeLabsPending  Type = "LABS_PENDING"
	TypeVLMonitor    Type = "VL_MONITOR"
	TypeSTIScreening Type = "STI_SCREENING"
	TypeLTFUReview   Type = "LTFU_REVIEW"
	TypeAdmin        Type = "ADMIN"
)

// CriticalTypes are the generated task types surfaced as critical on the
// dashboard once due.
var CriticalTypes = []Type{TypeLTFUReview, TypeVLMonitor, TypeLabsPending}

type Status string

const (
	StatusOpen      Status = "OPEN"
	StatusDone      Status = "DONE"
	StatusDismissed Status = "DISMISSED"
)

type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

type Task struct {
	ID          uuid.UUID              `json:"id"`
	ClientID    *uuid.UUID             `json:"client_id,omitempty"`
	Type        Type                   `json:"type"`
	Title       string                 `json:"title"`
	Description *string                `json:"description,omitempty"`
	DueDate     *time.Time             `json:"due_date,omitempty"`
	Status      Status                 `json:"status"`
	Priority    Priority               `json:"priority"`
	AssignedTo  *uuid.UUID             `json:"assigned_to,omitempty"`
	Payload     map[string]interface{} `json:"payload"`
	CreatedBy   *uuid.UUID             `json:"created_by,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	CompletedBy *uuid.UUID             `json:"completed_by,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`

	// Populated on reads from the client row.
	FacilityID *uuid.UUID `json:"facility_id,omitempty"`
	ClientCode *string    `json:"client_code,omitempty"`
	ClientName *string    `json:"client_name,omitempty"`
}

// Record is the authorization view of the task: it belongs to its client's
// current facility, is assigned to its assignee and owned by its creator.
func (t *Task) Record() *rbac.Record {
	return &rbac.Record{
		UserID:         idString(t.CreatedBy),
		FacilityID:     idString(t.FacilityID),
		AssignedUserID: idString(t.AssignedTo),
	}
}

func idString(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}

// Filter narrows a task listing.
type Filter struct {
	Status         Status
	Type           Type
	ClientID       *uuid.UUID
	Overdue        bool
	FacilityID     *uuid.UUID
	AssignedUserID *uuid.UUID
}

// Counts summarizes a filtered listing.
type Counts struct {
	Overdue  int `json:"overdue"`
	DueToday int `json:"due_today"`
	Total    int `json:"total"`
}

type CreateRequest struct {
	ClientID    *string    `json:"client_id" validate:"omitempty,uuid"`
	Type        Type       `json:"type" validate:"required,oneof=FOLLOW_UP REFILL_PREP REFILL_ARV LABS_PENDING VL_MONITOR STI_SCREENING LTFU_REVIEW ADMIN"`
	Title       string     `json:"title" validate:"required,max=300"`
	Description *string    `json:"description"`
	DueDate     *time.Time `json:"due_date"`
	Priority    Priority   `json:"priority" validate:"omitempty,oneof=LOW MEDIUM HIGH URGENT"`
	AssignedTo  *string    `json:"assigned_to" validate:"omitempty,uuid"`
}

type UpdateRequest struct {
	Status   *Status    `json:"status" validate:"omitempty,oneof=OPEN DONE DISMISSED"`
	Priority *Priority  `json:"priority" validate:"omitempty,oneof=LOW MEDIUM HIGH URGENT"`
	DueDate  *time.Time `json:"due_date"`
}

type AssignRequest struct {
	AssignedTo *string `json:"assigned_to" validate:"omitempty,uuid"`
}
