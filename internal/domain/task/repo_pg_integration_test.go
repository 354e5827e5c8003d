//go:build integration

package task

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cebuhealth/hivcare/internal/platform/db"
	"github.com/cebuhealth/hivcare/internal/platform/db/dbtest"
)

var testDB *dbtest.DB

func TestMain(m *testing.M) {
	d, cleanup, err := dbtest.Open(context.Background())
	if errors.Is(err, dbtest.ErrNoDatabase) {
		fmt.Fprintf(os.Stderr, "skipping integration tests: %v\n", err)
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up postgres: %v\n", err)
		os.Exit(1)
	}
	testDB = d
	code := m.Run()
	cleanup()
	os.Exit(code)
}

// fixtures inserts rows straight into the schema for one test.
type fixtures struct {
	t        *testing.T
	ctx      context.Context
	facility uuid.UUID
}

func newFixtures(t *testing.T) *fixtures {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, testDB.Truncate(ctx, "tasks", "dispenses", "prescriptions", "lab_results",
		"lab_panels", "encounters", "clients", "regimens", "facilities"))
	f := &fixtures{t: t, ctx: ctx, facility: uuid.New()}
	f.exec(`INSERT INTO facilities (id, code, name) VALUES ($1, $2, 'Cebu Social Hygiene Clinic')`,
		f.facility, "F-"+f.facility.String()[:8])
	return f
}

func (f *fixtures) exec(sql string, args ...interface{}) {
	f.t.Helper()
	if _, err := testDB.Pool.Exec(f.ctx, sql, args...); err != nil {
		f.t.Fatalf("fixture: %v\n%s", err, sql)
	}
}

func (f *fixtures) client(code, surname, first, status string) uuid.UUID {
	id := uuid.New()
	f.exec(`
		INSERT INTO clients (id, client_code, uic, legal_surname, legal_first_name, sex_at_birth, status,
			facility_id, current_facility_id, date_enrolled)
		VALUES ($1, $2, $3, $4, $5, 'FEMALE', $6, $7, $7, $8)`,
		id, code, "UIC-"+id.String(), surname, first, status, f.facility, genNow.AddDate(-2, 0, 0))
	return id
}

func (f *fixtures) encounter(clientID uuid.UUID, at time.Time) {
	f.exec(`INSERT INTO encounters (id, client_id, date, type) VALUES ($1, $2, $3, 'FOLLOW_UP')`,
		uuid.New(), clientID, at)
}

func (f *fixtures) regimen(name, category string) uuid.UUID {
	id := uuid.New()
	f.exec(`INSERT INTO regimens (id, name, category) VALUES ($1, $2, $3)`, id, name, category)
	return id
}

func (f *fixtures) prescription(clientID uuid.UUID, category string, regimenID uuid.UUID, active bool) uuid.UUID {
	id := uuid.New()
	f.exec(`
		INSERT INTO prescriptions (id, client_id, category, regimen_id, start_date, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		id, clientID, category, regimenID, genNow.AddDate(-1, 0, 0), active)
	return id
}

func (f *fixtures) dispense(prescriptionID uuid.UUID, at time.Time, daysSupply int) {
	f.exec(`
		INSERT INTO dispenses (id, prescription_id, dispensed_at, days_supply, next_refill_date)
		VALUES ($1, $2, $3, $4, $5)`,
		uuid.New(), prescriptionID, at, daysSupply, at.AddDate(0, 0, daysSupply))
}

func (f *fixtures) viralLoad(clientID uuid.UUID, reportedAt time.Time) {
	f.exec(`
		INSERT INTO lab_panels (id, client_id, panel_type, status, reported_at)
		VALUES ($1, $2, 'HIV_VL', 'POSITIVE', $3)`,
		uuid.New(), clientID, reportedAt)
}

func (f *fixtures) tasks(typ Type) []*Task {
	f.t.Helper()
	items, _, err := NewRepoPG(testDB.Pool).List(f.ctx, Filter{Type: typ}, genNow, 100, 0)
	require.NoError(f.t, err)
	return items
}

func newPGGenerator() *Generator {
	g := NewGenerator(NewRepoPG(testDB.Pool), db.NewTransactor(testDB.Pool), zerolog.Nop())
	g.now = func() time.Time { return genNow }
	return g
}

func TestRepoPG_LTFUCandidates(t *testing.T) {
	f := newFixtures(t)
	regimen := f.regimen("TLD", "ARV")

	stale := f.client("C-001", "Santos", "Ana", "ACTIVE")
	f.encounter(stale, genNow.AddDate(0, 0, -120))

	seen := f.client("C-002", "Reyes", "Ben", "ACTIVE")
	f.encounter(seen, genNow.AddDate(0, 0, -10))

	refilled := f.client("C-003", "Cruz", "Cy", "ACTIVE")
	f.encounter(refilled, genNow.AddDate(0, 0, -200))
	f.dispense(f.prescription(refilled, "ARV", regimen, true), genNow.AddDate(0, 0, -30), 30)

	inactive := f.client("C-004", "Lim", "Dee", "INACTIVE")
	f.encounter(inactive, genNow.AddDate(-1, 0, 0))

	got, err := NewRepoPG(testDB.Pool).LTFUCandidates(f.ctx, genNow.AddDate(0, 0, -LTFUDays))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, Candidate{ClientID: stale, ClientCode: "C-001", Surname: "Santos", FirstName: "Ana"}, got[0])
}

func TestRepoPG_ViralLoadCandidatesCutoff(t *testing.T) {
	f := newFixtures(t)
	regimen := f.regimen("TLD", "ARV")
	cutoff := genNow.AddDate(0, -LabsDueMonths, 0)

	never := f.client("C-010", "Never", "Tested", "ACTIVE")
	f.prescription(never, "ARV", regimen, true)

	old := f.client("C-011", "Old", "Result", "ACTIVE")
	f.prescription(old, "ARV", regimen, true)
	f.viralLoad(old, cutoff)

	recent := f.client("C-012", "Recent", "Result", "ACTIVE")
	f.prescription(recent, "ARV", regimen, true)
	f.viralLoad(recent, cutoff.Add(time.Hour))

	stopped := f.client("C-013", "Stopped", "ARV", "ACTIVE")
	f.prescription(stopped, "ARV", regimen, false)

	prep := f.client("C-014", "On", "PrEP", "ACTIVE")
	f.prescription(prep, "PREP", f.regimen("TDF/FTC", "PREP"), true)

	got, err := NewRepoPG(testDB.Pool).ViralLoadCandidates(f.ctx, cutoff)
	require.NoError(t, err)
	ids := make([]uuid.UUID, 0, len(got))
	for _, c := range got {
		ids = append(ids, c.ClientID)
	}
	assert.ElementsMatch(t, []uuid.UUID{never, old}, ids)
}

func TestRepoPG_HasOpenTaskMatchesPayload(t *testing.T) {
	f := newFixtures(t)
	repo := NewRepoPG(testDB.Pool)
	cl := f.client("C-020", "Go", "Gil", "ACTIVE")
	rx := uuid.New()

	require.NoError(t, repo.Create(f.ctx, &Task{
		ClientID: &cl, Type: TypeLabsPending, Title: "Labs", Status: StatusOpen, Priority: PriorityMedium,
		Payload: map[string]interface{}{"missingLabs": []string{"CD4"}},
	}))
	require.NoError(t, repo.Create(f.ctx, &Task{
		ClientID: &cl, Type: TypeRefillARV, Title: "Refill", Status: StatusOpen, Priority: PriorityMedium,
		Payload: map[string]interface{}{"prescriptionId": rx.String()},
	}))
	done := &Task{
		ClientID: &cl, Type: TypeVLMonitor, Title: "VL", Status: StatusOpen, Priority: PriorityMedium,
	}
	require.NoError(t, repo.Create(f.ctx, done))
	done.Status = StatusDone
	require.NoError(t, repo.Update(f.ctx, done))

	other := uuid.New()
	tests := []struct {
		name string
		q    OpenTaskQuery
		want bool
	}{
		{"lab listed", OpenTaskQuery{ClientID: cl, Type: TypeLabsPending, MissingLab: "CD4"}, true},
		{"lab not listed", OpenTaskQuery{ClientID: cl, Type: TypeLabsPending, MissingLab: "HIV_VL"}, false},
		{"any lab", OpenTaskQuery{ClientID: cl, Type: TypeLabsPending}, true},
		{"same prescription", OpenTaskQuery{ClientID: cl, Type: TypeRefillARV, PrescriptionID: &rx}, true},
		{"other prescription", OpenTaskQuery{ClientID: cl, Type: TypeRefillARV, PrescriptionID: &other}, false},
		{"closed task", OpenTaskQuery{ClientID: cl, Type: TypeVLMonitor}, false},
		{"other client", OpenTaskQuery{ClientID: other, Type: TypeLabsPending}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.HasOpenTask(f.ctx, tt.q)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGeneratorPG_LTFUScenario(t *testing.T) {
	f := newFixtures(t)
	stale := f.client("C-001", "Santos", "Ana", "ACTIVE")
	f.encounter(stale, genNow.AddDate(0, 0, -120))
	seen := f.client("C-002", "Reyes", "Ben", "ACTIVE")
	f.encounter(seen, genNow.AddDate(0, 0, -10))

	stats, err := newPGGenerator().Run(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{LTFU: 1}, stats)

	tasks := f.tasks(TypeLTFUReview)
	require.Len(t, tasks, 1)
	task := tasks[0]
	assert.Equal(t, stale, *task.ClientID)
	assert.Equal(t, "LTFU Review: Santos, Ana", task.Title)
	assert.Equal(t, StatusOpen, task.Status)
	assert.Equal(t, PriorityMedium, task.Priority)
	assert.True(t, genNow.Equal(*task.DueDate))
	assert.Equal(t, "C-001", task.Payload["clientCode"])
	assert.Equal(t, "2024-03-17T09:00:00Z", task.Payload["lastVisitThreshold"])
	assert.Equal(t, "Santos, Ana", *task.ClientName)
}

func TestGeneratorPG_RefillScenario(t *testing.T) {
	f := newFixtures(t)
	cl := f.client("C-030", "Dizon", "Eli", "ACTIVE")
	f.encounter(cl, genNow.AddDate(0, 0, -5))
	arv := f.prescription(cl, "ARV", f.regimen("TLD", "ARV"), true)
	f.dispense(arv, genNow.AddDate(0, 0, -28), 30)
	prep := f.prescription(cl, "PREP", f.regimen("TDF/FTC", "PREP"), true)
	f.dispense(prep, genNow.AddDate(0, 0, -20), 90)
	// viral load current, so only refills are due
	f.viralLoad(cl, genNow.AddDate(0, -1, 0))

	stats, err := newPGGenerator().Run(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{RefillDue: 1}, stats)

	tasks := f.tasks(TypeRefillARV)
	require.Len(t, tasks, 1)
	task := tasks[0]
	assert.Equal(t, "ARV Refill Due: Dizon, Eli", task.Title)
	assert.True(t, genNow.AddDate(0, 0, 2).Equal(*task.DueDate))
	assert.Equal(t, arv.String(), task.Payload["prescriptionId"])
	assert.Equal(t, "TLD", task.Payload["regimenName"])
	assert.Equal(t, float64(30), task.Payload["daysSupply"])
	assert.Empty(t, f.tasks(TypeRefillPrEP))
}

func TestGeneratorPG_SecondRunCreatesNothing(t *testing.T) {
	f := newFixtures(t)
	regimen := f.regimen("TLD", "ARV")
	cl := f.client("C-040", "Uy", "Fe", "ACTIVE")
	f.encounter(cl, genNow.AddDate(0, 0, -200))
	f.dispense(f.prescription(cl, "ARV", regimen, true), genNow.AddDate(0, 0, -100), 101)

	g := newPGGenerator()
	first, err := g.Run(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{LTFU: 1, LabsDue: 1, RefillDue: 1, VLMonitor: 1}, first)

	second, err := g.Run(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Total())

	var count int
	require.NoError(t, testDB.Pool.QueryRow(f.ctx, `SELECT COUNT(*) FROM tasks`).Scan(&count))
	assert.Equal(t, 4, count)

	labs := f.tasks(TypeLabsPending)
	require.Len(t, labs, 1)
	assert.Equal(t, []interface{}{"HIV_VL"}, labs[0].Payload["missingLabs"])
}

func TestGeneratorPG_FailedRunKeepsNothing(t *testing.T) {
	f := newFixtures(t)
	cl := f.client("C-050", "Tan", "Gus", "ACTIVE")
	f.encounter(cl, genNow.AddDate(0, 0, -120))

	g := newPGGenerator()
	g.store = failingRefills{g.store}
	_, err := g.Run(f.ctx)
	require.Error(t, err)

	var count int
	require.NoError(t, testDB.Pool.QueryRow(f.ctx, `SELECT COUNT(*) FROM tasks`).Scan(&count))
	assert.Zero(t, count, "the LTFU task from the first scan must be rolled back")
}

// failingRefills breaks the third scan after the first has inserted.
type failingRefills struct{ GeneratorStore }

func (failingRefills) UpcomingRefills(context.Context, time.Time, time.Time) ([]RefillCandidate, error) {
	return nil, errors.New("refill query failed")
}
