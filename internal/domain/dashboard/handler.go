package dashboard

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/cebuhealth/hivcare/internal/platform/rbac"
)

type Handler struct {
	svc   *Service
	authz *rbac.Authorizer
}

func NewHandler(svc *Service, authz *rbac.Authorizer) *Handler {
	return &Handler{svc: svc, authz: authz}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/dashboard", h.Get, h.authz.Require(rbac.ActionRead, rbac.ResourceDashboard))
}

// Get serves the caller's facility dashboard, or the program-wide one for
// callers holding the all-scoped grant.
func (h *Handler) Get(c echo.Context) error {
	ctx := c.Request().Context()
	subject, err := h.authz.Subject(ctx)
	if err != nil {
		return rbac.HTTPError(err)
	}
	scope, ok := rbac.ListScopeFor(subject, rbac.ActionRead, rbac.ResourceDashboard)
	if !ok {
		return rbac.HTTPError(&rbac.DeniedError{Action: rbac.ActionRead, Resource: rbac.ResourceDashboard})
	}

	var facility *uuid.UUID
	if !scope.All {
		id, err := uuid.Parse(subject.FacilityID)
		if err != nil {
			return rbac.HTTPError(&rbac.DeniedError{Action: rbac.ActionRead, Resource: rbac.ResourceDashboard})
		}
		facility = &id
	}

	d, err := h.svc.Get(ctx, facility)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Internal server error").SetInternal(err)
	}
	return c.JSON(http.StatusOK, map[string]*Dashboard{"dashboard": d})
}
