package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestAuthSkipper(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/health", true},
		{"/health/db", true},
		{"/metrics", true},
		{"/api/auth/otp/request", true},
		{"/api/auth/otp/verify", true},
		{"/api/jobs/refresh-summaries", true},
		{"/api/auth/logout", false},
		{"/api/clients", false},
		{"/api/clients/:id", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			e := echo.New()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, tt.path, nil), httptest.NewRecorder())
			c.SetPath(tt.path)
			if got := AuthSkipper(c); got != tt.want {
				t.Errorf("AuthSkipper(%s) = %v, want %v", tt.path, got, tt.want)
			}
			if IsPublicPath(tt.path) != tt.want {
				t.Errorf("IsPublicPath(%s) disagrees", tt.path)
			}
		})
	}
}
