package jobs

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// failureMessages are the bodies sent when a job fails.
var failureMessages = map[string]string{
	GenerateTasks:    "Failed to generate tasks",
	RefreshSummaries: "Failed to refresh summaries",
	RefreshDashboard: "Failed to refresh dashboard data",
}

type Handler struct {
	runner *Runner
	secret string
}

func NewHandler(runner *Runner, secret string) *Handler {
	return &Handler{runner: runner, secret: secret}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/jobs", RequireSecret(h.secret))
	for _, name := range Names {
		g.POST("/"+name, h.trigger(name))
	}
}

// RequireSecret admits requests carrying "Authorization: Bearer <secret>".
// An empty secret admits nothing.
func RequireSecret(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !validBearer(c.Request().Header.Get(echo.HeaderAuthorization), secret) {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			}
			return next(c)
		}
	}
}

func validBearer(header, secret string) bool {
	if secret == "" {
		return false
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1
}

func (h *Handler) trigger(name string) echo.HandlerFunc {
	return func(c echo.Context) error {
		res, err := h.runner.Run(c.Request().Context(), name)
		switch {
		case err == nil:
			return c.JSON(http.StatusOK, map[string]interface{}{
				"success": true,
				"message": res.Message,
				"stats":   res.Stats,
			})
		case errors.Is(err, ErrJobRunning):
			return c.JSON(http.StatusConflict, map[string]string{"error": "Job is already running"})
		default:
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": failureMessages[name]})
		}
	}
}
