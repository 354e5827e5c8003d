// Package summary keeps each client's clinical summary: baseline CD4, first
// viral load, current viral load status and current ARV/PrEP regimens. The
// summary is always recomputed from lab and prescription history.
package summary

import (
	"time"

	"github.com/google/uuid"
)

type ViralLoadStatus string

const (
	VLUndetectable ViralLoadStatus = "UNDETECTABLE"
	VLSuppressed   ViralLoadStatus = "SUPPRESSED"
	VLDetectable   ViralLoadStatus = "DETECTABLE"
	// VLHighNotSuppressed is a valid stored value that Derive never produces.
	VLHighNotSuppressed ViralLoadStatus = "HIGH_NOT_SUPPRESSED"
	VLPending           ViralLoadStatus = "PENDING"
	VLNotDone           ViralLoadStatus = "NOT_DONE"
)

// Viral load thresholds in copies/mL.
const (
	UndetectableBelow = 50.0
	SuppressedBelow   = 1000.0
)

// Panel type codes the derivation reads.
const (
	PanelCD4       = "CD4"
	PanelViralLoad = "HIV_VL"
)

// Prescription categories carried on the summary.
const (
	CategoryARV  = "ARV"
	CategoryPrEP = "PREP"
)

type Summary struct {
	ClientID             uuid.UUID       `json:"client_id"`
	BaselineCD4          *float64        `json:"baseline_cd4,omitempty"`
	BaselineCD4Date      *time.Time      `json:"baseline_cd4_date,omitempty"`
	FirstViralLoadDate   *time.Time      `json:"first_viral_load_date,omitempty"`
	ViralLoadStatus      ViralLoadStatus `json:"viral_load_status"`
	CurrentARVRegimenID  *uuid.UUID      `json:"current_arv_regimen_id,omitempty"`
	CurrentPrEPRegimenID *uuid.UUID      `json:"current_prep_regimen_id,omitempty"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// Observation is one result row of a reported positive panel. Value is nil
// for text-only results and for panels without results, where ResultID is
// the zero UUID.
type Observation struct {
	PanelID    uuid.UUID
	ResultID   uuid.UUID
	ReportedAt time.Time
	Value      *float64
}

// Prescription is the part of a prescription the summary cares about.
type Prescription struct {
	ID        uuid.UUID
	Category  string
	RegimenID *uuid.UUID
	StartDate time.Time
	EndDate   *time.Time
	IsActive  bool
}

// History is everything Derive needs for one client.
type History struct {
	CD4           []Observation
	ViralLoad     []Observation
	Prescriptions []Prescription
}
