package task

import (
	"context"
	"encoding/json"
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
	tasks map[uuid.UUID]*Task
}

func newMockRepo() *mockRepo {
	return &mockRepo{tasks: map[uuid.UUID]*Task{}}
}

func (m *mockRepo) Create(_ context.Context, t *Task) error {
	t.ID = uuid.New()
	cp := *t
	m.tasks[t.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Task, error) {
	t, ok := m.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *mockRepo) match(t *Task, f Filter) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Type != "" && t.Type != f.Type {
		return false
	}
	if f.FacilityID != nil && (t.FacilityID == nil || *t.FacilityID != *f.FacilityID) {
		return false
	}
	if f.AssignedUserID != nil {
		assigned := t.AssignedTo != nil && *t.AssignedTo == *f.AssignedUserID
		owned := t.CreatedBy != nil && *t.CreatedBy == *f.AssignedUserID
		if !assigned && !owned {
			return false
		}
	}
	return true
}

func (m *mockRepo) List(_ context.Context, f Filter, now time.Time, _, _ int) ([]*Task, int, error) {
	var out []*Task
	for _, t := range m.tasks {
		if !m.match(t, f) {
			continue
		}
		if f.Overdue && (t.DueDate == nil || !t.DueDate.Before(now)) {
			continue
		}
		out = append(out, t)
	}
	return out, len(out), nil
}

func (m *mockRepo) Count(_ context.Context, f Filter, now time.Time) (Counts, error) {
	var c Counts
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	for _, t := range m.tasks {
		if !m.match(t, f) {
			continue
		}
		c.Total++
		if t.DueDate == nil {
			continue
		}
		if t.DueDate.Before(now) {
			c.Overdue++
		}
		if !t.DueDate.Before(start) && t.DueDate.Before(start.AddDate(0, 0, 1)) {
			c.DueToday++
		}
	}
	return c, nil
}

func (m *mockRepo) Update(_ context.Context, t *Task) error {
	if _, ok := m.tasks[t.ID]; !ok {
		return ErrNotFound
	}
	cp := *t
	m.tasks[t.ID] = &cp
	return nil
}

func (m *mockRepo) Assign(_ context.Context, id uuid.UUID, assignee *uuid.UUID) error {
	t, ok := m.tasks[id]
	if !ok {
		return ErrNotFound
	}
	t.AssignedTo = assignee
	return nil
}

type mockClients map[uuid.UUID]*client.Client

func (m mockClients) GetByID(_ context.Context, id uuid.UUID) (*client.Client, error) {
	if c, ok := m[id]; ok {
		return c, nil
	}
	return nil, client.ErrNotFound
}

func (m mockClients) TouchLastVisit(context.Context, uuid.UUID, time.Time) error { return nil }

var svcNow = time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

func newTestService() (*Service, *mockRepo) {
	repo := newMockRepo()
	svc := NewService(repo)
	svc.now = func() time.Time { return svcNow }
	return svc, repo
}

func seedTask(repo *mockRepo, facility uuid.UUID, due time.Time, assignee *uuid.UUID) *Task {
	t := &Task{
		Type: TypeFollowUp, Title: "Call client", Status: StatusOpen, Priority: PriorityMedium,
		DueDate: &due, FacilityID: &facility, AssignedTo: assignee,
	}
	_ = repo.Create(context.Background(), t)
	return repo.tasks[t.ID]
}

// -- Service --

func TestService_CreateDefaults(t *testing.T) {
	svc, repo := newTestService()
	by := uuid.New()
	created, err := svc.Create(context.Background(), CreateRequest{Type: TypeAdmin, Title: "  File report "}, by)
	if err != nil {
		t.Fatal(err)
	}
	if created.Status != StatusOpen || created.Priority != PriorityMedium {
		t.Errorf("expected OPEN/MEDIUM, got %s/%s", created.Status, created.Priority)
	}
	if created.Title != "File report" {
		t.Errorf("expected trimmed title, got %q", created.Title)
	}
	if *repo.tasks[created.ID].CreatedBy != by {
		t.Error("expected created_by to be recorded")
	}
}

func TestService_UpdateCloses(t *testing.T) {
	svc, repo := newTestService()
	task := seedTask(repo, uuid.New(), svcNow, nil)
	by := uuid.New()
	done := StatusDone

	updated, err := svc.Update(context.Background(), task, UpdateRequest{Status: &done}, by)
	if err != nil {
		t.Fatal(err)
	}
	if updated.Status != StatusDone {
		t.Errorf("expected DONE, got %s", updated.Status)
	}
	if updated.CompletedAt == nil || !updated.CompletedAt.Equal(svcNow) {
		t.Errorf("expected completed_at %v, got %v", svcNow, updated.CompletedAt)
	}
	if updated.CompletedBy == nil || *updated.CompletedBy != by {
		t.Error("expected completed_by to be the caller")
	}
	if task.Status != StatusOpen {
		t.Error("input task must not be modified")
	}
}

func TestService_ClosedTasksAreTerminal(t *testing.T) {
	svc, repo := newTestService()
	task := seedTask(repo, uuid.New(), svcNow, nil)
	dismissed, open := StatusDismissed, StatusOpen

	closed, err := svc.Update(context.Background(), task, UpdateRequest{Status: &dismissed}, uuid.New())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Update(context.Background(), closed, UpdateRequest{Status: &open}, uuid.New()); err != ErrInvalidTransition {
		t.Errorf("expected ErrInvalidTransition reopening, got %v", err)
	}
	high := PriorityHigh
	if _, err := svc.Update(context.Background(), closed, UpdateRequest{Priority: &high}, uuid.New()); err != ErrInvalidTransition {
		t.Errorf("expected ErrInvalidTransition editing a closed task, got %v", err)
	}
}

func TestService_ListDefaultsToOpen(t *testing.T) {
	svc, repo := newTestService()
	facility := uuid.New()
	seedTask(repo, facility, svcNow.Add(-48*time.Hour), nil)
	seedTask(repo, facility, svcNow.Add(2*time.Hour), nil)
	seedTask(repo, facility, svcNow.Add(72*time.Hour), nil)
	closed := seedTask(repo, facility, svcNow.Add(-time.Hour), nil)
	closed.Status = StatusDone

	items, total, counts, err := svc.List(context.Background(), Filter{}, 20, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 || len(items) != 3 {
		t.Errorf("expected 3 open tasks, got %d", total)
	}
	want := Counts{Overdue: 1, DueToday: 1, Total: 3}
	if counts != want {
		t.Errorf("expected %+v, got %+v", want, counts)
	}

	_, total, counts, _ = svc.List(context.Background(), Filter{Overdue: true}, 20, 0)
	if total != 1 {
		t.Errorf("expected 1 overdue task, got %d", total)
	}
	if counts.Total != 3 {
		t.Errorf("summary counts ignore the overdue flag, got %+v", counts)
	}
}

// -- Handler --

func newTestHandler() (*Handler, *mockRepo, mockClients) {
	svc, repo := newTestService()
	clients := mockClients{}
	return NewHandler(svc, clients, rbac.NewAuthorizer(auth.SubjectFromContext)), repo, clients
}

func request(method, target, body string, subject *rbac.Subject) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if subject != nil {
		req = req.WithContext(auth.WithSubject(req.Context(), *subject))
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func expectStatus(t *testing.T, err error, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if err != nil {
		he, ok := err.(*echo.HTTPError)
		if !ok {
			t.Fatalf("expected *echo.HTTPError, got %T: %v", err, err)
		}
		if he.Code != want {
			t.Fatalf("expected %d, got %d (%v)", want, he.Code, he.Message)
		}
		return
	}
	if rec.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}

func TestHandler_ListRequiresSession(t *testing.T) {
	h, _, _ := newTestHandler()
	c, rec := request(http.MethodGet, "/api/tasks", "", nil)
	expectStatus(t, h.List(c), rec, http.StatusUnauthorized)
}

func TestHandler_ListScopedToAssignee(t *testing.T) {
	h, repo, _ := newTestHandler()
	facility := uuid.New()
	me := uuid.New()
	seedTask(repo, facility, svcNow.Add(-time.Hour), &me)
	seedTask(repo, facility, svcNow.Add(-time.Hour), nil)

	subject := rbac.Subject{UserID: me.String(), Roles: []rbac.Role{rbac.RoleEncoder}, FacilityID: facility.String()}
	c, rec := request(http.MethodGet, "/api/tasks", "", &subject)
	expectStatus(t, h.List(c), rec, http.StatusOK)

	var body struct {
		Data    []Task `json:"data"`
		Total   int    `json:"total"`
		Summary Counts `json:"summary"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Total != 1 || len(body.Data) != 1 {
		t.Errorf("expected only the assigned task, got %d", body.Total)
	}
	if body.Summary.Overdue != 1 {
		t.Errorf("expected 1 overdue in summary, got %+v", body.Summary)
	}
}

func TestHandler_CreateForClientInOtherFacility(t *testing.T) {
	h, _, clients := newTestHandler()
	cl := &client.Client{ID: uuid.New(), CurrentFacilityID: uuid.New()}
	clients[cl.ID] = cl

	subject := rbac.Subject{UserID: uuid.NewString(), Roles: []rbac.Role{rbac.RolePhysician}, FacilityID: uuid.NewString()}
	body := `{"client_id":"` + cl.ID.String() + `","type":"FOLLOW_UP","title":"Call"}`
	c, rec := request(http.MethodPost, "/api/tasks", body, &subject)
	expectStatus(t, h.Create(c), rec, http.StatusForbidden)

	subject.FacilityID = cl.CurrentFacilityID.String()
	c, rec = request(http.MethodPost, "/api/tasks", body, &subject)
	expectStatus(t, h.Create(c), rec, http.StatusCreated)
}

func TestHandler_CreateValidates(t *testing.T) {
	h, _, _ := newTestHandler()
	subject := rbac.Subject{UserID: uuid.NewString(), Roles: []rbac.Role{rbac.RoleAdmin}, FacilityID: uuid.NewString()}
	c, rec := request(http.MethodPost, "/api/tasks", `{"type":"CHORE","title":"x"}`, &subject)
	expectStatus(t, h.Create(c), rec, http.StatusBadRequest)

	c, rec = request(http.MethodPost, "/api/tasks", `{"type":"ADMIN","title":"\u0000\u0007  "}`, &subject)
	expectStatus(t, h.Create(c), rec, http.StatusBadRequest)
}

func TestHandler_UpdateClosedTask(t *testing.T) {
	h, repo, _ := newTestHandler()
	facility := uuid.New()
	task := seedTask(repo, facility, svcNow, nil)
	task.Status = StatusDone

	subject := rbac.Subject{UserID: uuid.NewString(), Roles: []rbac.Role{rbac.RoleAdmin}, FacilityID: facility.String()}
	c, rec := request(http.MethodPatch, "/api/tasks/"+task.ID.String(), `{"status":"OPEN"}`, &subject)
	c.SetParamNames("id")
	c.SetParamValues(task.ID.String())
	expectStatus(t, h.Update(c), rec, http.StatusUnprocessableEntity)
}

func TestHandler_AssignRequiresAssignAction(t *testing.T) {
	h, repo, _ := newTestHandler()
	facility := uuid.New()
	task := seedTask(repo, facility, svcNow, nil)
	target := uuid.NewString()

	physician := rbac.Subject{UserID: uuid.NewString(), Roles: []rbac.Role{rbac.RolePhysician}, FacilityID: facility.String()}
	c, rec := request(http.MethodPut, "/api/tasks/"+task.ID.String()+"/assign", `{"assigned_to":"`+target+`"}`, &physician)
	c.SetParamNames("id")
	c.SetParamValues(task.ID.String())
	expectStatus(t, h.Assign(c), rec, http.StatusForbidden)

	admin := rbac.Subject{UserID: uuid.NewString(), Roles: []rbac.Role{rbac.RoleAdmin}, FacilityID: facility.String()}
	c, rec = request(http.MethodPut, "/api/tasks/"+task.ID.String()+"/assign", `{"assigned_to":"`+target+`"}`, &admin)
	c.SetParamNames("id")
	c.SetParamValues(task.ID.String())
	expectStatus(t, h.Assign(c), rec, http.StatusOK)
	if repo.tasks[task.ID].AssignedTo == nil || repo.tasks[task.ID].AssignedTo.String() != target {
		t.Error("expected assignee to be stored")
	}
}

func TestHandler_GetNotFound(t *testing.T) {
	h, _, _ := newTestHandler()
	subject := rbac.Subject{UserID: uuid.NewString(), Roles: []rbac.Role{rbac.RoleDirector}}
	id := uuid.NewString()
	c, rec := request(http.MethodGet, "/api/tasks/"+id, "", &subject)
	c.SetParamNames("id")
	c.SetParamValues(id)
	expectStatus(t, h.Get(c), rec, http.StatusNotFound)
}
