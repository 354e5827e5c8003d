package pharmacy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/cebuhealth/hivcare/internal/domain/client"
	"github.com/cebuhealth/hivcare/internal/platform/auth"
	"github.com/cebuhealth/hivcare/internal/platform/rbac"
)

// -- Mock Repository --

type mockRepo struct {
	regimens    map[uuid.UUID]Category
	medications map[uuid.UUID]Category
	rxs         map[uuid.UUID]*Prescription
	dispenses   []*Dispense
	failCreate  bool
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		regimens:    map[uuid.UUID]Category{},
		medications: map[uuid.UUID]Category{},
		rxs:         map[uuid.UUID]*Prescription{},
	}
}

func (m *mockRepo) RegimenCategory(_ context.Context, id uuid.UUID) (Category, error) {
	c, ok := m.regimens[id]
	if !ok {
		return "", ErrCatalogNotFound
	}
	return c, nil
}

func (m *mockRepo) MedicationCategory(_ context.Context, id uuid.UUID) (Category, error) {
	c, ok := m.medications[id]
	if !ok {
		return "", ErrCatalogNotFound
	}
	return c, nil
}

func (m *mockRepo) DeactivateActive(_ context.Context, clientID uuid.UUID, cat Category, at time.Time) (int64, error) {
	var n int64
	for _, p := range m.rxs {
		if p.ClientID == clientID && p.Category == cat && p.IsActive {
			p.IsActive = false
			end := at
			p.EndDate = &end
			n++
		}
	}
	return n, nil
}

func (m *mockRepo) CreatePrescription(_ context.Context, p *Prescription) error {
	if m.failCreate {
		return errors.New("insert failed")
	}
	p.ID = uuid.New()
	m.rxs[p.ID] = p
	return nil
}

func (m *mockRepo) GetPrescription(_ context.Context, id uuid.UUID) (*Prescription, error) {
	p, ok := m.rxs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockRepo) ListPrescriptions(_ context.Context, f Filter, _, _ int) ([]*Prescription, int, error) {
	var out []*Prescription
	for _, p := range m.rxs {
		if f.ClientID != nil && p.ClientID != *f.ClientID {
			continue
		}
		if f.Active != nil && p.IsActive != *f.Active {
			continue
		}
		out = append(out, p)
	}
	return out, len(out), nil
}

func (m *mockRepo) CreateDispense(_ context.Context, d *Dispense) error {
	d.ID = uuid.New()
	m.dispenses = append(m.dispenses, d)
	return nil
}

func (m *mockRepo) ListDispenses(_ context.Context, rxID uuid.UUID) ([]*Dispense, error) {
	var out []*Dispense
	for _, d := range m.dispenses {
		if d.PrescriptionID == rxID {
			out = append(out, d)
		}
	}
	return out, nil
}

type mockClients struct {
	clients map[uuid.UUID]*client.Client
	visits  map[uuid.UUID]time.Time
}

func (m *mockClients) GetByID(_ context.Context, id uuid.UUID) (*client.Client, error) {
	if c, ok := m.clients[id]; ok {
		return c, nil
	}
	return nil, client.ErrNotFound
}

func (m *mockClients) TouchLastVisit(_ context.Context, id uuid.UUID, at time.Time) error {
	m.visits[id] = at
	return nil
}

// snapshotTx rolls the prescription map back when fn fails.
type snapshotTx struct{ repo *mockRepo }

func (s snapshotTx) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	saved := map[uuid.UUID]Prescription{}
	for id, p := range s.repo.rxs {
		saved[id] = *p
	}
	if err := fn(ctx); err != nil {
		s.repo.rxs = map[uuid.UUID]*Prescription{}
		for id, p := range saved {
			p := p
			s.repo.rxs[id] = &p
		}
		return err
	}
	return nil
}

type fixture struct {
	repo    *mockRepo
	clients *mockClients
	svc     *Service
	client  *client.Client
	arv     uuid.UUID
}

func newFixture() *fixture {
	repo := newMockRepo()
	facility := uuid.New()
	cl := &client.Client{ID: uuid.New(), CurrentFacilityID: facility, FacilityID: facility}
	clients := &mockClients{clients: map[uuid.UUID]*client.Client{cl.ID: cl}, visits: map[uuid.UUID]time.Time{}}
	arv := uuid.New()
	repo.regimens[arv] = CategoryARV
	return &fixture{repo: repo, clients: clients, svc: NewService(repo, clients, snapshotTx{repo}), client: cl, arv: arv}
}

func strp(s string) *string { return &s }

func TestPrescribe_ReplacesActiveARV(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	req := PrescribeRequest{Category: CategoryARV, RegimenID: strp(f.arv.String())}

	first, err := f.svc.Prescribe(ctx, f.client, req, nil)
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.svc.Prescribe(ctx, f.client, req, nil)
	if err != nil {
		t.Fatal(err)
	}

	if f.repo.rxs[first.ID].IsActive || f.repo.rxs[first.ID].EndDate == nil {
		t.Error("expected first ARV prescription to be ended")
	}
	if !f.repo.rxs[second.ID].IsActive {
		t.Error("expected new ARV prescription to be active")
	}
}

func TestPrescribe_OtherCategoriesStack(t *testing.T) {
	f := newFixture()
	med := uuid.New()
	f.repo.medications[med] = CategorySTI
	req := PrescribeRequest{Category: CategorySTI, MedicationID: strp(med.String())}

	a, _ := f.svc.Prescribe(context.Background(), f.client, req, nil)
	b, _ := f.svc.Prescribe(context.Background(), f.client, req, nil)
	if !f.repo.rxs[a.ID].IsActive || !f.repo.rxs[b.ID].IsActive {
		t.Error("STI prescriptions must not replace each other")
	}
}

func TestPrescribe_Validation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if _, err := f.svc.Prescribe(ctx, f.client, PrescribeRequest{Category: CategoryARV}, nil); !errors.Is(err, ErrProductRequired) {
		t.Errorf("expected ErrProductRequired, got %v", err)
	}
	if _, err := f.svc.Prescribe(ctx, f.client, PrescribeRequest{Category: CategoryPrEP, RegimenID: strp(f.arv.String())}, nil); !errors.Is(err, ErrCatalogNotFound) {
		t.Errorf("expected category mismatch to be not found, got %v", err)
	}
	start := time.Now()
	end := start.Add(-time.Hour)
	req := PrescribeRequest{Category: CategoryARV, RegimenID: strp(f.arv.String()), StartDate: &start, EndDate: &end}
	if _, err := f.svc.Prescribe(ctx, f.client, req, nil); !errors.Is(err, ErrInvalidDateRange) {
		t.Errorf("expected ErrInvalidDateRange, got %v", err)
	}
}

func TestPrescribe_FailureKeepsPreviousActive(t *testing.T) {
	f := newFixture()
	req := PrescribeRequest{Category: CategoryARV, RegimenID: strp(f.arv.String())}
	first, _ := f.svc.Prescribe(context.Background(), f.client, req, nil)

	f.repo.failCreate = true
	if _, err := f.svc.Prescribe(context.Background(), f.client, req, nil); err == nil {
		t.Fatal("expected error")
	}
	if !f.repo.rxs[first.ID].IsActive {
		t.Error("a failed replacement must not end the current prescription")
	}
}

func TestDispense_ComputesNextRefill(t *testing.T) {
	f := newFixture()
	rx, _ := f.svc.Prescribe(context.Background(), f.client, PrescribeRequest{Category: CategoryARV, RegimenID: strp(f.arv.String())}, nil)

	at := time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)
	days := 30
	d, err := f.svc.Dispense(context.Background(), rx, DispenseRequest{DispensedAt: &at, DaysSupply: &days}, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)
	if d.NextRefillDate == nil || !d.NextRefillDate.Equal(want) {
		t.Errorf("expected next refill %v, got %v", want, d.NextRefillDate)
	}
	if !f.clients.visits[f.client.ID].Equal(at) {
		t.Error("expected dispense to count as a visit")
	}

	rx.IsActive = false
	if _, err := f.svc.Dispense(context.Background(), rx, DispenseRequest{}, nil); !errors.Is(err, ErrInactive) {
		t.Errorf("expected ErrInactive, got %v", err)
	}
}

func invoke(h echo.HandlerFunc, method, target, body string, s rbac.Subject) *httptest.ResponseRecorder {
	e := echo.New()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(auth.WithSubject(req.Context(), s))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := h(c); err != nil {
		e.HTTPErrorHandler(err, c)
	}
	return rec
}

func TestHandler_PrescribeAndDispense(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc, f.clients, rbac.NewAuthorizer(auth.SubjectFromContext))
	facility := f.client.CurrentFacilityID.String()
	physician := rbac.Subject{UserID: uuid.NewString(), Roles: []rbac.Role{rbac.RolePhysician}, FacilityID: facility}
	pharmacist := rbac.Subject{UserID: uuid.NewString(), Roles: []rbac.Role{rbac.RolePharmacist}, FacilityID: facility}
	nurse := rbac.Subject{UserID: uuid.NewString(), Roles: []rbac.Role{rbac.RoleNurse}, FacilityID: facility}

	body := `{"client_id":"` + f.client.ID.String() + `","category":"ARV","regimen_id":"` + f.arv.String() + `"}`
	if rec := invoke(h.Prescribe, http.MethodPost, "/api/prescriptions", body, nurse); rec.Code != http.StatusForbidden {
		t.Errorf("nurse prescribe: expected 403, got %d", rec.Code)
	}
	rec := invoke(h.Prescribe, http.MethodPost, "/api/prescriptions", body, physician)
	if rec.Code != http.StatusCreated {
		t.Fatalf("physician prescribe: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var rx Prescription
	_ = json.Unmarshal(rec.Body.Bytes(), &rx)

	dispense := `{"prescription_id":"` + rx.ID.String() + `","days_supply":30}`
	if rec := invoke(h.Dispense, http.MethodPost, "/api/dispenses", dispense, physician); rec.Code != http.StatusForbidden {
		t.Errorf("physician dispense: expected 403, got %d", rec.Code)
	}
	if rec := invoke(h.Dispense, http.MethodPost, "/api/dispenses", dispense, pharmacist); rec.Code != http.StatusCreated {
		t.Errorf("pharmacist dispense: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = invoke(h.ListPrescriptions, http.MethodGet, "/api/prescriptions?client_id="+f.client.ID.String()+"&active=true", "", nurse)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"total":1`) {
		t.Errorf("list: unexpected %d %s", rec.Code, rec.Body.String())
	}
	if rec := invoke(h.ListPrescriptions, http.MethodGet, "/api/prescriptions?active=maybe", "", nurse); rec.Code != http.StatusBadRequest {
		t.Errorf("bad active flag: expected 400, got %d", rec.Code)
	}

	rec = invoke(h.ListDispenses, http.MethodGet, "/api/dispenses?prescription_id="+rx.ID.String(), "", pharmacist)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"total":1`) {
		t.Errorf("dispense list: unexpected %d %s", rec.Code, rec.Body.String())
	}
}
