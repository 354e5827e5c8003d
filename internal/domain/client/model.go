// Package client manages enrolled clients: registration, lifecycle status,
// case manager assignment and facility transfers. Clients are never deleted.
package client

import (
	"time"

	"github.com/google/uuid"

	"github.com/cebuhealth/hivcare/internal/platform/rbac"
)

type Status string

const (
	StatusActive         Status = "ACTIVE"
	StatusTransferredOut Status = "TRANSFERRED_OUT"
	StatusExpired        Status = "EXPIRED"
	StatusLostToFollowUp Status = "LOST_TO_FOLLOW_UP"
	StatusInactive       Status = "INACTIVE"
)

type Sex string

const (
	SexMale     Sex = "MALE"
	SexFemale   Sex = "FEMALE"
	SexIntersex Sex = "INTERSEX"
	SexUnknown  Sex = "UNKNOWN"
)

// transitions lists the statuses reachable from each status. EXPIRED is
// terminal.
var transitions = map[Status][]Status{
	StatusActive:         {StatusTransferredOut, StatusExpired, StatusLostToFollowUp, StatusInactive},
	StatusLostToFollowUp: {StatusActive, StatusTransferredOut, StatusExpired, StatusInactive},
	StatusInactive:       {StatusActive, StatusExpired},
	StatusTransferredOut: {StatusActive},
	StatusExpired:        nil,
}

// CanTransition reports whether a client may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ValidStatus reports whether s is a known lifecycle status.
func ValidStatus(s Status) bool {
	_, ok := transitions[s]
	return ok
}

type Client struct {
	ID                uuid.UUID  `json:"id"`
	ClientCode        string     `json:"client_code"`
	UIC               string     `json:"uic"`
	PhilHealth        *string    `json:"phil_health,omitempty"`
	LegalSurname      string     `json:"legal_surname"`
	LegalFirstName    string     `json:"legal_first_name"`
	LegalMiddleName   *string    `json:"legal_middle_name,omitempty"`
	PreferredName     *string    `json:"preferred_name,omitempty"`
	DateOfBirth       *time.Time `json:"date_of_birth,omitempty"`
	SexAtBirth        Sex        `json:"sex_at_birth"`
	ContactNumber     *string    `json:"contact_number,omitempty"`
	Email             *string    `json:"email,omitempty"`
	HomeAddress       *string    `json:"home_address,omitempty"`
	Notes             *string    `json:"notes,omitempty"`
	Status            Status     `json:"status"`
	FacilityID        uuid.UUID  `json:"facility_id"`
	CurrentFacilityID uuid.UUID  `json:"current_facility_id"`
	CaseManagerID     *uuid.UUID `json:"case_manager_id,omitempty"`
	CreatedBy         *uuid.UUID `json:"created_by,omitempty"`
	DateEnrolled      time.Time  `json:"date_enrolled"`
	LastVisitAt       *time.Time `json:"last_visit_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// DisplayName renders "Surname, First" as used in task titles.
func (c *Client) DisplayName() string {
	return c.LegalSurname + ", " + c.LegalFirstName
}

// Record is the authorization view of the client: it belongs to its current
// facility, is assigned to its case manager and owned by whoever enrolled it.
func (c *Client) Record() *rbac.Record {
	return &rbac.Record{
		UserID:         idString(c.CreatedBy),
		FacilityID:     c.CurrentFacilityID.String(),
		AssignedUserID: idString(c.CaseManagerID),
	}
}

// ChildRecord is the authorization view of a record hanging off the client,
// such as an encounter or prescription, owned by ownerID.
func (c *Client) ChildRecord(ownerID *uuid.UUID) *rbac.Record {
	return &rbac.Record{
		UserID:         idString(ownerID),
		FacilityID:     c.CurrentFacilityID.String(),
		AssignedUserID: idString(c.CaseManagerID),
	}
}

func idString(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}

// Filter narrows a client listing. FacilityID and CaseManagerID come from the
// caller's list scope; the rest from query parameters.
type Filter struct {
	Search        string
	Status        Status
	FacilityID    *uuid.UUID
	CaseManagerID *uuid.UUID
}
