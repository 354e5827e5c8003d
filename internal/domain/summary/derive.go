package summary

import (
	"bytes"
	"time"

	"github.com/google/uuid"
)

// Derive computes a client's summary from its history as of now. The result
// depends only on its arguments.
func Derive(clientID uuid.UUID, h History, now time.Time) *Summary {
	s := &Summary{
		ClientID:        clientID,
		ViralLoadStatus: VLPending,
		UpdatedAt:       now,
	}

	if cd4 := earliestWithValue(h.CD4); cd4 != nil {
		v, at := *cd4.Value, cd4.ReportedAt
		s.BaselineCD4 = &v
		s.BaselineCD4Date = &at
	}

	if first := earliest(h.ViralLoad); first != nil {
		at := first.ReportedAt
		s.FirstViralLoadDate = &at
	}
	if latest := latestWithValue(h.ViralLoad); latest != nil {
		s.ViralLoadStatus = ClassifyViralLoad(*latest.Value)
	}

	s.CurrentARVRegimenID = currentRegimen(h.Prescriptions, CategoryARV, now)
	s.CurrentPrEPRegimenID = currentRegimen(h.Prescriptions, CategoryPrEP, now)
	return s
}

// ClassifyViralLoad buckets a numeric viral load.
func ClassifyViralLoad(copies float64) ViralLoadStatus {
	switch {
	case copies < UndetectableBelow:
		return VLUndetectable
	case copies < SuppressedBelow:
		return VLSuppressed
	default:
		return VLDetectable
	}
}

// before orders observations by report time, then panel id, then result id.
func before(a, b Observation) bool {
	if !a.ReportedAt.Equal(b.ReportedAt) {
		return a.ReportedAt.Before(b.ReportedAt)
	}
	if c := bytes.Compare(a.PanelID[:], b.PanelID[:]); c != 0 {
		return c < 0
	}
	return bytes.Compare(a.ResultID[:], b.ResultID[:]) < 0
}

func earliest(obs []Observation) *Observation {
	var best *Observation
	for i := range obs {
		if best == nil || before(obs[i], *best) {
			best = &obs[i]
		}
	}
	return best
}

func earliestWithValue(obs []Observation) *Observation {
	var best *Observation
	for i := range obs {
		if obs[i].Value == nil {
			continue
		}
		if best == nil || before(obs[i], *best) {
			best = &obs[i]
		}
	}
	return best
}

func latestWithValue(obs []Observation) *Observation {
	var best *Observation
	for i := range obs {
		if obs[i].Value == nil {
			continue
		}
		if best == nil || before(*best, obs[i]) {
			best = &obs[i]
		}
	}
	return best
}

// currentRegimen picks the active, unexpired prescription of category with
// the latest start date.
func currentRegimen(rxs []Prescription, category string, now time.Time) *uuid.UUID {
	var best *Prescription
	for i := range rxs {
		p := &rxs[i]
		if p.Category != category || !p.IsActive || p.RegimenID == nil {
			continue
		}
		if p.EndDate != nil && !p.EndDate.After(now) {
			continue
		}
		if best == nil || p.StartDate.After(best.StartDate) ||
			(p.StartDate.Equal(best.StartDate) && bytes.Compare(p.ID[:], best.ID[:]) > 0) {
			best = p
		}
	}
	if best == nil {
		return nil
	}
	id := *best.RegimenID
	return &id
}
