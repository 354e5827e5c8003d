// Package lab stores lab panels and their results.
package lab

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPositive      Status = "POSITIVE"
	StatusNegative      Status = "NEGATIVE"
	StatusIndeterminate Status = "INDETERMINATE"
	StatusPending       Status = "PENDING"
	StatusNotDone       Status = "NOT_DONE"
)

// Common panel type codes. Others are accepted as given.
const (
	PanelViralLoad = "HIV_VL"
	PanelCD4       = "CD4"
)

type Panel struct {
	ID          uuid.UUID  `json:"id"`
	ClientID    uuid.UUID  `json:"client_id"`
	EncounterID *uuid.UUID `json:"encounter_id,omitempty"`
	PanelType   string     `json:"panel_type"`
	LabName     *string    `json:"lab_name,omitempty"`
	Status      Status     `json:"status"`
	OrderedAt   *time.Time `json:"ordered_at,omitempty"`
	CollectedAt *time.Time `json:"collected_at,omitempty"`
	ReportedAt  *time.Time `json:"reported_at,omitempty"`
	CreatedBy   *uuid.UUID `json:"created_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	Results     []*Result  `json:"results,omitempty"`
}

type Result struct {
	ID        uuid.UUID `json:"id"`
	PanelID   uuid.UUID `json:"panel_id"`
	TestCode  string    `json:"test_code"`
	ValueNum  *float64  `json:"value_num,omitempty"`
	ValueText *string   `json:"value_text,omitempty"`
	Unit      *string   `json:"unit,omitempty"`
	RefLow    *float64  `json:"ref_low,omitempty"`
	RefHigh   *float64  `json:"ref_high,omitempty"`
	Abnormal  bool      `json:"abnormal"`
	CreatedAt time.Time `json:"created_at"`
}

// OutOfRange reports whether a numeric value falls outside the reference
// range. Missing bounds are open.
func OutOfRange(value float64, low, high *float64) bool {
	if low != nil && value < *low {
		return true
	}
	if high != nil && value > *high {
		return true
	}
	return false
}

type Filter struct {
	ClientID       *uuid.UUID
	PanelType      string
	Status         Status
	FacilityID     *uuid.UUID
	AssignedUserID *uuid.UUID
}

type CreatePanelRequest struct {
	ClientID    string     `json:"client_id" validate:"required,uuid"`
	EncounterID *string    `json:"encounter_id" validate:"omitempty,uuid"`
	PanelType   string     `json:"panel_type" validate:"required,max=32"`
	LabName     *string    `json:"lab_name" validate:"omitempty,max=100"`
	Status      Status     `json:"status" validate:"omitempty,oneof=POSITIVE NEGATIVE INDETERMINATE PENDING NOT_DONE"`
	OrderedAt   *time.Time `json:"ordered_at"`
	CollectedAt *time.Time `json:"collected_at"`
	ReportedAt  *time.Time `json:"reported_at"`
}

type UpdatePanelRequest struct {
	LabName     *string    `json:"lab_name" validate:"omitempty,max=100"`
	Status      *Status    `json:"status" validate:"omitempty,oneof=POSITIVE NEGATIVE INDETERMINATE PENDING NOT_DONE"`
	CollectedAt *time.Time `json:"collected_at"`
	ReportedAt  *time.Time `json:"reported_at"`
}

type AddResultRequest struct {
	TestCode  string   `json:"test_code" validate:"required,max=32"`
	ValueNum  *float64 `json:"value_num" validate:"required_without=ValueText"`
	ValueText *string  `json:"value_text" validate:"omitempty,max=500"`
	Unit      *string  `json:"unit" validate:"omitempty,max=20"`
	RefLow    *float64 `json:"ref_low"`
	RefHigh   *float64 `json:"ref_high"`
	Abnormal  *bool    `json:"abnormal"`
}
