package task

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cebuhealth/hivcare/internal/platform/db"
)

// Fixed monitoring policy.
const (
	LTFUDays            = 90
	LabsDueMonths       = 6
	RefillLookaheadDays = 3
	VLMonitorMonths     = 12
)

const viralLoadLab = "HIV_VL"

// Stats counts the tasks one run created, per scan.
type Stats struct {
	LTFU      int `json:"ltfu_review"`
	LabsDue   int `json:"labs_pending"`
	RefillDue int `json:"refill"`
	VLMonitor int `json:"vl_monitor"`
}

func (s Stats) Total() int {
	return s.LTFU + s.LabsDue + s.RefillDue + s.VLMonitor
}

// Generator scans clinical data for overdue follow-up and opens tasks for
// it. Each scan checks for an OPEN task covering the same condition before
// creating one, so repeated runs do not duplicate work.
type Generator struct {
	store  GeneratorStore
	tx     db.TxRunner
	logger zerolog.Logger
	now    func() time.Time
}

func NewGenerator(store GeneratorStore, tx db.TxRunner, logger zerolog.Logger) *Generator {
	return &Generator{store: store, tx: tx, logger: logger, now: time.Now}
}

// Run executes the four scans in one transaction. On error nothing is kept.
func (g *Generator) Run(ctx context.Context) (Stats, error) {
	now := g.now()
	var stats Stats
	err := g.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if stats.LTFU, err = g.ScanLTFU(ctx, now); err != nil {
			return fmt.Errorf("ltfu scan: %w", err)
		}
		if stats.LabsDue, err = g.ScanLabsDue(ctx, now); err != nil {
			return fmt.Errorf("labs due scan: %w", err)
		}
		if stats.RefillDue, err = g.ScanRefillsDue(ctx, now); err != nil {
			return fmt.Errorf("refill scan: %w", err)
		}
		if stats.VLMonitor, err = g.ScanVLMonitor(ctx, now); err != nil {
			return fmt.Errorf("vl monitor scan: %w", err)
		}
		return nil
	})
	if err != nil {
		return Stats{}, err
	}
	g.logger.Info().
		Int("ltfu_review", stats.LTFU).
		Int("labs_pending", stats.LabsDue).
		Int("refill", stats.RefillDue).
		Int("vl_monitor", stats.VLMonitor).
		Msg("tasks generated")
	return stats, nil
}

// ScanLTFU opens an LTFU review for active clients not seen in LTFUDays.
func (g *Generator) ScanLTFU(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.AddDate(0, 0, -LTFUDays)
	candidates, err := g.store.LTFUCandidates(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	created := 0
	for _, c := range candidates {
		ok, err := g.createUnlessOpen(ctx, OpenTaskQuery{ClientID: c.ClientID, Type: TypeLTFUReview}, &Task{
			ClientID: &c.ClientID,
			Type:     TypeLTFUReview,
			Title:    "LTFU Review: " + c.Surname + ", " + c.FirstName,
			DueDate:  &now,
			Payload: map[string]interface{}{
				"clientCode":         c.ClientCode,
				"lastVisitThreshold": cutoff.UTC().Format(time.RFC3339),
			},
		})
		if err != nil {
			return created, err
		}
		if ok {
			created++
		}
	}
	return created, nil
}

// ScanLabsDue asks for a viral load when a client on ARVs has none reported
// in LabsDueMonths.
func (g *Generator) ScanLabsDue(ctx context.Context, now time.Time) (int, error) {
	candidates, err := g.store.ViralLoadCandidates(ctx, now.AddDate(0, -LabsDueMonths, 0))
	if err != nil {
		return 0, err
	}
	created := 0
	for _, c := range candidates {
		q := OpenTaskQuery{ClientID: c.ClientID, Type: TypeLabsPending, MissingLab: viralLoadLab}
		ok, err := g.createUnlessOpen(ctx, q, &Task{
			ClientID: &c.ClientID,
			Type:     TypeLabsPending,
			Title:    "HIV Viral Load Due: " + c.Surname + ", " + c.FirstName,
			DueDate:  &now,
			Payload: map[string]interface{}{
				"clientCode":  c.ClientCode,
				"missingLabs": []string{viralLoadLab},
				"reason":      "Six-month monitoring requirement",
			},
		})
		if err != nil {
			return created, err
		}
		if ok {
			created++
		}
	}
	return created, nil
}

// ScanRefillsDue opens a refill task for every ARV or PrEP dispense running
// out within RefillLookaheadDays.
func (g *Generator) ScanRefillsDue(ctx context.Context, now time.Time) (int, error) {
	refills, err := g.store.UpcomingRefills(ctx, now, now.AddDate(0, 0, RefillLookaheadDays))
	if err != nil {
		return 0, err
	}
	created := 0
	for _, r := range refills {
		typ := TypeRefillPrEP
		if r.Category == "ARV" {
			typ = TypeRefillARV
		}
		due := r.NextRefillDate
		payload := map[string]interface{}{
			"prescriptionId": r.PrescriptionID.String(),
			"regimenName":    nil,
			"daysSupply":     nil,
		}
		if r.RegimenName != nil {
			payload["regimenName"] = *r.RegimenName
		}
		if r.DaysSupply != nil {
			payload["daysSupply"] = *r.DaysSupply
		}
		q := OpenTaskQuery{ClientID: r.ClientID, Type: typ, PrescriptionID: &r.PrescriptionID}
		ok, err := g.createUnlessOpen(ctx, q, &Task{
			ClientID: &r.ClientID,
			Type:     typ,
			Title:    r.Category + " Refill Due: " + r.Surname + ", " + r.FirstName,
			DueDate:  &due,
			Payload:  payload,
		})
		if err != nil {
			return created, err
		}
		if ok {
			created++
		}
	}
	return created, nil
}

// ScanVLMonitor opens the annual viral load monitoring task.
func (g *Generator) ScanVLMonitor(ctx context.Context, now time.Time) (int, error) {
	candidates, err := g.store.ViralLoadCandidates(ctx, now.AddDate(0, -VLMonitorMonths, 0))
	if err != nil {
		return 0, err
	}
	created := 0
	for _, c := range candidates {
		ok, err := g.createUnlessOpen(ctx, OpenTaskQuery{ClientID: c.ClientID, Type: TypeVLMonitor}, &Task{
			ClientID: &c.ClientID,
			Type:     TypeVLMonitor,
			Title:    "VL Monitoring Due: " + c.Surname + ", " + c.FirstName,
			DueDate:  &now,
			Payload: map[string]interface{}{
				"clientCode": c.ClientCode,
				"reason":     "Annual monitoring requirement",
			},
		})
		if err != nil {
			return created, err
		}
		if ok {
			created++
		}
	}
	return created, nil
}

func (g *Generator) createUnlessOpen(ctx context.Context, q OpenTaskQuery, t *Task) (bool, error) {
	exists, err := g.store.HasOpenTask(ctx, q)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	t.Status = StatusOpen
	t.Priority = PriorityMedium
	if err := g.store.Create(ctx, t); err != nil {
		return false, err
	}
	return true, nil
}
