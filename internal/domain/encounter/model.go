// Package encounter records client visits. Every encounter moves the
// client's last visit forward.
package encounter

import (
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeIntake        Type = "INTAKE"
	TypeFollowUp      Type = "FOLLOW_UP"
	TypeCounseling    Type = "COUNSELING"
	TypeDispense      Type = "DISPENSE"
	TypeLabCollection Type = "LAB_COLLECTION"
)

type Encounter struct {
	ID          uuid.UUID  `json:"id"`
	ClientID    uuid.UUID  `json:"client_id"`
	ClinicianID *uuid.UUID `json:"clinician_id,omitempty"`
	Date        time.Time  `json:"date"`
	Type        Type       `json:"type"`
	Note        *string    `json:"note,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

type CreateRequest struct {
	ClientID string    `json:"client_id" validate:"required,uuid"`
	Date     time.Time `json:"date" validate:"required"`
	Type     Type      `json:"type" validate:"required,oneof=INTAKE FOLLOW_UP COUNSELING DISPENSE LAB_COLLECTION"`
	Note     *string   `json:"note"`
}
