package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/cebuhealth/hivcare/internal/platform/audit"
	"github.com/cebuhealth/hivcare/internal/platform/rbac"
)

type memAuditStore struct{ entries []audit.Entry }

func (m *memAuditStore) Insert(_ context.Context, e *audit.Entry) error {
	m.entries = append(m.entries, *e)
	return nil
}

func newTestHandler(cfg ServiceConfig) (*Handler, *testEnv, *memAuditStore, *echo.Echo) {
	env := newTestEnv(cfg)
	store := &memAuditStore{}
	h := NewHandler(env.svc, audit.NewLogger(store, zerolog.Nop()), false)
	return h, env, store, echo.New()
}

func postJSON(e *echo.Echo, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestHandler_RequestAndVerify(t *testing.T) {
	h, env, store, e := newTestHandler(ServiceConfig{DevCode: "246810"})

	c, rec := postJSON(e, `{"email":"nurse@cebu.gov.ph","type":"EMAIL"}`)
	if err := h.RequestOTP(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var reqBody map[string]interface{}
	_ = json.Unmarshal(rec.Body.Bytes(), &reqBody)
	if reqBody["sent_to"] != "nu***@cebu.gov.ph" {
		t.Errorf("unexpected body %v", reqBody)
	}

	c, rec = postJSON(e, `{"email":"nurse@cebu.gov.ph","type":"EMAIL","code":"246810"}`)
	if err := h.VerifyOTP(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != SessionCookie || cookies[0].Value == "" || !cookies[0].HttpOnly {
		t.Errorf("expected session cookie, got %+v", cookies)
	}
	if len(store.entries) != 1 || store.entries[0].Action != audit.ActionLogin || store.entries[0].UserID != env.user.ID.String() {
		t.Errorf("expected LOGIN audit, got %+v", store.entries)
	}
}

func TestHandler_RequestOTP_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		code int
	}{
		{"bad type", `{"email":"nurse@cebu.gov.ph","type":"FAX"}`, http.StatusBadRequest},
		{"bad email", `{"email":"nope","type":"EMAIL"}`, http.StatusBadRequest},
		{"missing contact", `{"type":"SMS"}`, http.StatusBadRequest},
		{"unknown user", `{"email":"ghost@cebu.gov.ph","type":"EMAIL"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, _, e := newTestHandler(ServiceConfig{})
			c, _ := postJSON(e, tt.body)
			err := h.RequestOTP(c)
			he, ok := err.(*echo.HTTPError)
			if !ok || he.Code != tt.code {
				t.Errorf("expected %d, got %v", tt.code, err)
			}
		})
	}
}

func TestHandler_VerifyOTP_TooManyAttempts(t *testing.T) {
	h, _, _, e := newTestHandler(ServiceConfig{DevCode: "123456", OTPMaxAttempts: 1})
	c, _ := postJSON(e, `{"email":"nurse@cebu.gov.ph","type":"EMAIL"}`)
	if err := h.RequestOTP(c); err != nil {
		t.Fatal(err)
	}

	c, _ = postJSON(e, `{"email":"nurse@cebu.gov.ph","type":"EMAIL","code":"000000"}`)
	if he, ok := h.VerifyOTP(c).(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for wrong code")
	}
	c, _ = postJSON(e, `{"email":"nurse@cebu.gov.ph","type":"EMAIL","code":"123456"}`)
	if he, ok := h.VerifyOTP(c).(*echo.HTTPError); !ok || he.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after the limit")
	}
}

func TestHandler_Logout(t *testing.T) {
	h, env, _, e := newTestHandler(ServiceConfig{})
	env.sessions.sessions[env.user.ID] = &Session{ID: env.user.ID, UserID: env.user.ID}

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	ctx := WithSubject(req.Context(), rbac.Subject{UserID: env.user.ID.String()})
	req = req.WithContext(withSessionID(ctx, "sess"))
	rec := httptest.NewRecorder()
	if err := h.Logout(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(env.sessions.sessions) != 0 {
		t.Error("expected sessions to be deleted")
	}
	if ck := rec.Result().Cookies(); len(ck) != 1 || ck[0].MaxAge >= 0 {
		t.Errorf("expected cleared cookie, got %+v", ck)
	}
}

func TestHandler_Me(t *testing.T) {
	h, env, _, e := newTestHandler(ServiceConfig{})

	rec := httptest.NewRecorder()
	err := h.Me(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec))
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithSubject(req.Context(), rbac.Subject{UserID: env.user.ID.String()}))
	rec = httptest.NewRecorder()
	if err := h.Me(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), "nurse@cebu.gov.ph") {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}
