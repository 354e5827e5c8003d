package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient is the slice of clinical history the scans look at.
type fakeClient struct {
	id       uuid.UUID
	code     string
	surname  string
	first    string
	active   bool
	onARV    bool
	lastSeen time.Time
	lastVLAt *time.Time
	refills  []RefillCandidate
}

// fakeStore answers the generator queries from fakeClients and keeps the
// tasks it is asked to create.
type fakeStore struct {
	clients []*fakeClient
	tasks   []*Task
	failOn  string
	cutoffs map[string][]time.Time
}

func newFakeStore(clients ...*fakeClient) *fakeStore {
	return &fakeStore{clients: clients, cutoffs: map[string][]time.Time{}}
}

func (s *fakeStore) LTFUCandidates(_ context.Context, cutoff time.Time) ([]Candidate, error) {
	s.cutoffs["ltfu"] = append(s.cutoffs["ltfu"], cutoff)
	if s.failOn == "ltfu" {
		return nil, errors.New("ltfu query failed")
	}
	var out []Candidate
	for _, c := range s.clients {
		if c.active && !c.lastSeen.After(cutoff) {
			out = append(out, candidateOf(c))
		}
	}
	return out, nil
}

func (s *fakeStore) ViralLoadCandidates(_ context.Context, cutoff time.Time) ([]Candidate, error) {
	s.cutoffs["vl"] = append(s.cutoffs["vl"], cutoff)
	if s.failOn == "vl" {
		return nil, errors.New("vl query failed")
	}
	var out []Candidate
	for _, c := range s.clients {
		if c.active && c.onARV && (c.lastVLAt == nil || !c.lastVLAt.After(cutoff)) {
			out = append(out, candidateOf(c))
		}
	}
	return out, nil
}

func (s *fakeStore) UpcomingRefills(_ context.Context, from, to time.Time) ([]RefillCandidate, error) {
	s.cutoffs["refill"] = append(s.cutoffs["refill"], from, to)
	if s.failOn == "refill" {
		return nil, errors.New("refill query failed")
	}
	var out []RefillCandidate
	for _, c := range s.clients {
		for _, r := range c.refills {
			if r.NextRefillDate.Before(from) || r.NextRefillDate.After(to) {
				continue
			}
			if r.Category != "ARV" && r.Category != "PREP" {
				continue
			}
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeStore) HasOpenTask(_ context.Context, q OpenTaskQuery) (bool, error) {
	for _, t := range s.tasks {
		if t.Status != StatusOpen || t.Type != q.Type || t.ClientID == nil || *t.ClientID != q.ClientID {
			continue
		}
		if q.PrescriptionID != nil && t.Payload["prescriptionId"] != q.PrescriptionID.String() {
			continue
		}
		if q.MissingLab != "" && !containsLab(t.Payload["missingLabs"], q.MissingLab) {
			continue
		}
		return true, nil
	}
	return false, nil
}

func (s *fakeStore) Create(_ context.Context, t *Task) error {
	if s.failOn == "create" {
		return errors.New("insert failed")
	}
	t.ID = uuid.New()
	s.tasks = append(s.tasks, t)
	return nil
}

func (s *fakeStore) ofType(typ Type) []*Task {
	var out []*Task
	for _, t := range s.tasks {
		if t.Type == typ {
			out = append(out, t)
		}
	}
	return out
}

func containsLab(v interface{}, lab string) bool {
	labs, _ := v.([]string)
	for _, l := range labs {
		if l == lab {
			return true
		}
	}
	return false
}

func candidateOf(c *fakeClient) Candidate {
	return Candidate{ClientID: c.id, ClientCode: c.code, Surname: c.surname, FirstName: c.first}
}

// rollbackTx discards tasks created by a failed fn.
type rollbackTx struct{ store *fakeStore }

func (r rollbackTx) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	n := len(r.store.tasks)
	if err := fn(ctx); err != nil {
		r.store.tasks = r.store.tasks[:n]
		return err
	}
	return nil
}

var genNow = time.Date(2024, 6, 15, 9, 0, 0, 0, time.UTC)

func newTestGenerator(store *fakeStore) *Generator {
	g := NewGenerator(store, rollbackTx{store}, zerolog.Nop())
	g.now = func() time.Time { return genNow }
	return g
}

func timep(t time.Time) *time.Time { return &t }

func TestGenerator_LTFUScenario(t *testing.T) {
	stale := &fakeClient{
		id: uuid.New(), code: "C-001", surname: "Santos", first: "Ana",
		active: true, lastSeen: genNow.AddDate(0, 0, -120),
	}
	recent := &fakeClient{
		id: uuid.New(), code: "C-002", surname: "Reyes", first: "Ben",
		active: true, lastSeen: genNow.AddDate(0, 0, -10),
	}
	inactive := &fakeClient{
		id: uuid.New(), code: "C-003", surname: "Cruz", first: "Cy",
		lastSeen: genNow.AddDate(-1, 0, 0),
	}
	store := newFakeStore(stale, recent, inactive)

	stats, err := newTestGenerator(store).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.LTFU)
	assert.Equal(t, 1, stats.Total())

	tasks := store.ofType(TypeLTFUReview)
	require.Len(t, tasks, 1)
	task := tasks[0]
	assert.Equal(t, stale.id, *task.ClientID)
	assert.Equal(t, "LTFU Review: Santos, Ana", task.Title)
	assert.Equal(t, StatusOpen, task.Status)
	assert.Equal(t, PriorityMedium, task.Priority)
	assert.Equal(t, genNow, *task.DueDate)
	assert.Equal(t, "C-001", task.Payload["clientCode"])
	assert.Equal(t, "2024-03-17T09:00:00Z", task.Payload["lastVisitThreshold"])
}

func TestGenerator_IsIdempotent(t *testing.T) {
	c := &fakeClient{
		id: uuid.New(), code: "C-010", surname: "Lim", first: "Dee",
		active: true, onARV: true, lastSeen: genNow.AddDate(0, 0, -200),
	}
	store := newFakeStore(c)
	g := newTestGenerator(store)

	first, err := g.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{LTFU: 1, LabsDue: 1, VLMonitor: 1}, first)

	second, err := g.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second.Total())
	assert.Len(t, store.tasks, 3)
}

func TestGenerator_ClosedTaskDoesNotBlockNewOne(t *testing.T) {
	c := &fakeClient{
		id: uuid.New(), code: "C-011", surname: "Tan", first: "Eve",
		active: true, lastSeen: genNow.AddDate(0, 0, -100),
	}
	store := newFakeStore(c)
	g := newTestGenerator(store)

	_, err := g.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, store.tasks, 1)
	store.tasks[0].Status = StatusDone

	stats, err := g.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.LTFU)
	assert.Len(t, store.ofType(TypeLTFUReview), 2)
}

func TestGenerator_RefillPerPrescription(t *testing.T) {
	clientID := uuid.New()
	arvRx, prepRx, stiRx := uuid.New(), uuid.New(), uuid.New()
	name := "TLD"
	days := 30
	c := &fakeClient{
		id: clientID, code: "C-020", surname: "Go", first: "Fay",
		active: true, lastSeen: genNow,
		refills: []RefillCandidate{
			{ClientID: clientID, Surname: "Go", FirstName: "Fay", PrescriptionID: arvRx, Category: "ARV",
				RegimenName: &name, DaysSupply: &days, NextRefillDate: genNow.AddDate(0, 0, 2)},
			{ClientID: clientID, Surname: "Go", FirstName: "Fay", PrescriptionID: prepRx, Category: "PREP",
				NextRefillDate: genNow.AddDate(0, 0, 3)},
			{ClientID: clientID, Surname: "Go", FirstName: "Fay", PrescriptionID: stiRx, Category: "STI",
				NextRefillDate: genNow.AddDate(0, 0, 1)},
			{ClientID: clientID, Surname: "Go", FirstName: "Fay", PrescriptionID: uuid.New(), Category: "ARV",
				NextRefillDate: genNow.AddDate(0, 0, 10)},
		},
	}
	store := newFakeStore(c)
	g := newTestGenerator(store)

	stats, err := g.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.RefillDue)

	arv := store.ofType(TypeRefillARV)
	require.Len(t, arv, 1)
	assert.Equal(t, "ARV Refill Due: Go, Fay", arv[0].Title)
	assert.Equal(t, arvRx.String(), arv[0].Payload["prescriptionId"])
	assert.Equal(t, "TLD", arv[0].Payload["regimenName"])
	assert.Equal(t, 30, arv[0].Payload["daysSupply"])
	assert.Equal(t, genNow.AddDate(0, 0, 2), *arv[0].DueDate)

	prep := store.ofType(TypeRefillPrEP)
	require.Len(t, prep, 1)
	assert.Equal(t, "PREP Refill Due: Go, Fay", prep[0].Title)
	assert.Nil(t, prep[0].Payload["regimenName"])
	assert.Nil(t, prep[0].Payload["daysSupply"])

	// A second dispense on the same prescription is covered by the open task.
	c.refills = append(c.refills, RefillCandidate{ClientID: clientID, Surname: "Go", FirstName: "Fay",
		PrescriptionID: arvRx, Category: "ARV", NextRefillDate: genNow.AddDate(0, 0, 1)})
	stats, err = g.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.RefillDue)
}

func TestGenerator_ViralLoadScans(t *testing.T) {
	recentVL := &fakeClient{
		id: uuid.New(), code: "C-030", surname: "Uy", first: "Gil",
		active: true, onARV: true, lastSeen: genNow, lastVLAt: timep(genNow.AddDate(0, -2, 0)),
	}
	sevenMonths := &fakeClient{
		id: uuid.New(), code: "C-031", surname: "Ong", first: "Hal",
		active: true, onARV: true, lastSeen: genNow, lastVLAt: timep(genNow.AddDate(0, -7, 0)),
	}
	neverTested := &fakeClient{
		id: uuid.New(), code: "C-032", surname: "Sy", first: "Ivy",
		active: true, onARV: true, lastSeen: genNow,
	}
	notOnARV := &fakeClient{
		id: uuid.New(), code: "C-033", surname: "Yu", first: "Jo",
		active: true, lastSeen: genNow,
	}
	store := newFakeStore(recentVL, sevenMonths, neverTested, notOnARV)

	stats, err := newTestGenerator(store).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.LabsDue)
	assert.Equal(t, 1, stats.VLMonitor)

	labs := store.ofType(TypeLabsPending)
	require.Len(t, labs, 2)
	assert.Equal(t, []string{"HIV_VL"}, labs[0].Payload["missingLabs"])
	assert.Equal(t, "Six-month monitoring requirement", labs[0].Payload["reason"])

	vl := store.ofType(TypeVLMonitor)
	require.Len(t, vl, 1)
	assert.Equal(t, neverTested.id, *vl[0].ClientID)
	assert.Equal(t, "VL Monitoring Due: Sy, Ivy", vl[0].Title)
	assert.Equal(t, "Annual monitoring requirement", vl[0].Payload["reason"])
}

func TestGenerator_Cutoffs(t *testing.T) {
	store := newFakeStore()
	_, err := newTestGenerator(store).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []time.Time{genNow.AddDate(0, 0, -90)}, store.cutoffs["ltfu"])
	assert.Equal(t, []time.Time{genNow.AddDate(0, -6, 0), genNow.AddDate(0, -12, 0)}, store.cutoffs["vl"])
	assert.Equal(t, []time.Time{genNow, genNow.AddDate(0, 0, 3)}, store.cutoffs["refill"])
}

func TestGenerator_FailureKeepsNothing(t *testing.T) {
	for _, failOn := range []string{"refill", "create"} {
		t.Run(failOn, func(t *testing.T) {
			c := &fakeClient{
				id: uuid.New(), code: "C-040", surname: "Ko", first: "Kim",
				active: true, lastSeen: genNow.AddDate(0, 0, -95),
			}
			store := newFakeStore(c)
			store.failOn = failOn

			stats, err := newTestGenerator(store).Run(context.Background())
			require.Error(t, err)
			assert.Equal(t, Stats{}, stats)
			assert.Empty(t, store.tasks)
		})
	}
}

func TestGenerator_ErrorNamesTheScan(t *testing.T) {
	store := newFakeStore()
	store.failOn = "vl"
	_, err := newTestGenerator(store).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "labs due scan")
}
