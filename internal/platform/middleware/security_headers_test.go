package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestSecurityHeaders(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		target  string
		handler echo.HandlerFunc
		wantErr int
	}{
		{"client detail", http.MethodGet, "/api/clients/abc", func(c echo.Context) error {
			return c.JSON(http.StatusOK, map[string]string{"client_code": "CC-1"})
		}, 0},
		{"dispense", http.MethodPost, "/api/dispenses", func(c echo.Context) error {
			return c.NoContent(http.StatusCreated)
		}, 0},
		{"handler error", http.MethodGet, "/api/tasks/missing", func(c echo.Context) error {
			return echo.NewHTTPError(http.StatusNotFound, "Task not found")
		}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(tt.method, tt.target, nil), rec)

			err := SecurityHeaders()(tt.handler)(c)
			if tt.wantErr == 0 && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != 0 {
				he, ok := err.(*echo.HTTPError)
				if !ok || he.Code != tt.wantErr {
					t.Fatalf("expected %d, got %v", tt.wantErr, err)
				}
			}

			for _, kv := range securityHeaders {
				if got := rec.Header().Get(kv[0]); got != kv[1] {
					t.Errorf("%s = %q, want %q", kv[0], got, kv[1])
				}
			}
		})
	}
}

func TestSecurityHeaders_NoStore(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/labs/panels", nil), rec)

	if err := SecurityHeaders()(func(c echo.Context) error { return c.NoContent(http.StatusOK) })(c); err != nil {
		t.Fatal(err)
	}
	if rec.Header().Get("Cache-Control") != "no-store" || rec.Header().Get("Pragma") != "no-cache" {
		t.Errorf("health data responses must not be cached: %v", rec.Header())
	}
}
