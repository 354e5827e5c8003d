// Package pharmacy handles prescriptions and dispenses. Dispenses drive the
// refill schedule the task generator watches.
package pharmacy

import (
	"time"

	"github.com/google/uuid"
)

type Category string

const (
	CategoryARV           Category = "ARV"
	CategoryPrEP          Category = "PREP"
	CategoryTBProphylaxis Category = "TB_PROPHYLAXIS"
	CategorySTI           Category = "STI"
	CategoryOther         Category = "OTHER"
)

// Exclusive reports whether a client may hold only one active prescription
// of the category at a time.
func (c Category) Exclusive() bool {
	return c == CategoryARV || c == CategoryPrEP
}

type Prescription struct {
	ID           uuid.UUID  `json:"id"`
	ClientID     uuid.UUID  `json:"client_id"`
	Category     Category   `json:"category"`
	RegimenID    *uuid.UUID `json:"regimen_id,omitempty"`
	RegimenName  *string    `json:"regimen_name,omitempty"`
	MedicationID *uuid.UUID `json:"medication_id,omitempty"`
	StartDate    time.Time  `json:"start_date"`
	EndDate      *time.Time `json:"end_date,omitempty"`
	IsActive     bool       `json:"is_active"`
	PrescriberID *uuid.UUID `json:"prescriber_id,omitempty"`
	Instructions *string    `json:"instructions,omitempty"`
	ReasonChange *string    `json:"reason_change,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

type Dispense struct {
	ID             uuid.UUID  `json:"id"`
	PrescriptionID uuid.UUID  `json:"prescription_id"`
	DispensedBy    *uuid.UUID `json:"dispensed_by,omitempty"`
	DispensedAt    time.Time  `json:"dispensed_at"`
	Quantity       *float64   `json:"quantity,omitempty"`
	Unit           *string    `json:"unit,omitempty"`
	DaysSupply     *int       `json:"days_supply,omitempty"`
	NextRefillDate *time.Time `json:"next_refill_date,omitempty"`
	Note           *string    `json:"note,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// NextRefill is the day the supply runs out.
func NextRefill(dispensedAt time.Time, daysSupply int) time.Time {
	return dispensedAt.AddDate(0, 0, daysSupply)
}

type Filter struct {
	ClientID       *uuid.UUID
	Category       Category
	Active         *bool
	FacilityID     *uuid.UUID
	AssignedUserID *uuid.UUID
}

type PrescribeRequest struct {
	ClientID     string     `json:"client_id" validate:"required,uuid"`
	Category     Category   `json:"category" validate:"required,oneof=ARV PREP TB_PROPHYLAXIS STI OTHER"`
	RegimenID    *string    `json:"regimen_id" validate:"omitempty,uuid"`
	MedicationID *string    `json:"medication_id" validate:"omitempty,uuid"`
	StartDate    *time.Time `json:"start_date"`
	EndDate      *time.Time `json:"end_date"`
	Instructions *string    `json:"instructions"`
	ReasonChange *string    `json:"reason_change"`
}

type DispenseRequest struct {
	PrescriptionID string     `json:"prescription_id" validate:"required,uuid"`
	DispensedAt    *time.Time `json:"dispensed_at"`
	Quantity       *float64   `json:"quantity" validate:"omitempty,gt=0"`
	Unit           *string    `json:"unit" validate:"omitempty,max=20"`
	DaysSupply     *int       `json:"days_supply" validate:"omitempty,gt=0,lte=365"`
	Note           *string    `json:"note"`
}
