package pharmacy

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/cebuhealth/hivcare/internal/domain/client"
	"github.com/cebuhealth/hivcare/internal/platform/middleware"
	"github.com/cebuhealth/hivcare/internal/platform/rbac"
	"github.com/cebuhealth/hivcare/pkg/pagination"
	"github.com/cebuhealth/hivcare/pkg/validation"
)

type Handler struct {
	svc     *Service
	clients client.Lookup
	authz   *rbac.Authorizer
}

func NewHandler(svc *Service, clients client.Lookup, authz *rbac.Authorizer) *Handler {
	return &Handler{svc: svc, clients: clients, authz: authz}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	rx := api.Group("/prescriptions")
	rx.GET("", h.ListPrescriptions)
	rx.POST("", h.Prescribe)
	rx.GET("/:id", h.GetPrescription)

	d := api.Group("/dispenses")
	d.GET("", h.ListDispenses)
	d.POST("", h.Dispense)
}

func (h *Handler) Prescribe(c echo.Context) error {
	var req PrescribeRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	caller, err := h.caller(c)
	if err != nil {
		return err
	}
	cl, err := h.client(c, req.ClientID)
	if err != nil {
		return err
	}
	if err := h.authz.RequirePermission(ctx, rbac.ActionCreate, rbac.ResourcePrescriptions, cl.ChildRecord(caller)); err != nil {
		return rbac.HTTPError(err)
	}

	p, err := h.svc.Prescribe(ctx, cl, req, caller)
	if err != nil {
		return httpError(err)
	}
	middleware.AnnotateAudit(c, p.ID.String(), nil, p)
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPrescription(c echo.Context) error {
	p, _, err := h.prescription(c, c.Param("id"), rbac.ActionRead, rbac.ResourcePrescriptions)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPrescriptions(c echo.Context) error {
	ctx := c.Request().Context()
	f := Filter{Category: Category(c.QueryParam("category"))}
	if raw := c.QueryParam("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid active flag")
		}
		f.Active = &active
	}

	if raw := c.QueryParam("client_id"); raw != "" {
		cl, err := h.client(c, raw)
		if err != nil {
			return err
		}
		if err := h.authz.RequirePermission(ctx, rbac.ActionList, rbac.ResourcePrescriptions, cl.ChildRecord(nil)); err != nil {
			return rbac.HTTPError(err)
		}
		f.ClientID = &cl.ID
	} else {
		scope, err := h.authz.ListScope(ctx, rbac.ResourcePrescriptions)
		if err != nil {
			return rbac.HTTPError(err)
		}
		if !scope.All {
			if id, err := uuid.Parse(scope.FacilityID); err == nil {
				f.FacilityID = &id
			} else if id, err := uuid.Parse(scope.AssignedUserID); err == nil {
				f.AssignedUserID = &id
			} else {
				return rbac.HTTPError(&rbac.DeniedError{Action: rbac.ActionList, Resource: rbac.ResourcePrescriptions})
			}
		}
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListPrescriptions(ctx, f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Internal server error")
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Dispense(c echo.Context) error {
	var req DispenseRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	caller, err := h.caller(c)
	if err != nil {
		return err
	}
	rx, cl, err := h.prescription(c, req.PrescriptionID, rbac.ActionRead, rbac.ResourcePrescriptions)
	if err != nil {
		return err
	}
	if err := h.authz.RequirePermission(ctx, rbac.ActionCreate, rbac.ResourceDispenses, cl.ChildRecord(caller)); err != nil {
		return rbac.HTTPError(err)
	}

	d, err := h.svc.Dispense(ctx, rx, req, caller)
	if err != nil {
		return httpError(err)
	}
	middleware.AnnotateAudit(c, d.ID.String(), nil, d)
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) ListDispenses(c echo.Context) error {
	raw := c.QueryParam("prescription_id")
	if raw == "" {
		if _, err := h.authz.Subject(c.Request().Context()); err != nil {
			return rbac.HTTPError(err)
		}
		return echo.NewHTTPError(http.StatusBadRequest, "prescription_id is required")
	}
	rx, cl, err := h.prescription(c, raw, rbac.ActionRead, rbac.ResourcePrescriptions)
	if err != nil {
		return err
	}
	if err := h.authz.RequirePermission(c.Request().Context(), rbac.ActionList, rbac.ResourceDispenses, cl.ChildRecord(nil)); err != nil {
		return rbac.HTTPError(err)
	}
	items, err := h.svc.ListDispenses(c.Request().Context(), rx.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Internal server error")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items, "total": len(items)})
}

// caller returns the authenticated user's id.
func (h *Handler) caller(c echo.Context) (*uuid.UUID, error) {
	s, err := h.authz.Subject(c.Request().Context())
	if err != nil {
		return nil, rbac.HTTPError(err)
	}
	id, err := uuid.Parse(s.UserID)
	if err != nil {
		return nil, nil
	}
	return &id, nil
}

// prescription loads a prescription and its client and checks action.
func (h *Handler) prescription(c echo.Context, raw string, action rbac.Action, resource rbac.Resource) (*Prescription, *client.Client, error) {
	ctx := c.Request().Context()
	if _, err := h.authz.Subject(ctx); err != nil {
		return nil, nil, rbac.HTTPError(err)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, nil, echo.NewHTTPError(http.StatusBadRequest, "invalid prescription id")
	}
	rx, err := h.svc.GetPrescription(ctx, id)
	if err != nil {
		return nil, nil, httpError(err)
	}
	cl, err := h.clients.GetByID(ctx, rx.ClientID)
	if err != nil {
		return nil, nil, echo.NewHTTPError(http.StatusInternalServerError, "Internal server error")
	}
	if err := h.authz.RequirePermission(ctx, action, resource, cl.ChildRecord(rx.PrescriberID)); err != nil {
		return nil, nil, rbac.HTTPError(err)
	}
	return rx, cl, nil
}

func (h *Handler) client(c echo.Context, raw string) (*client.Client, error) {
	if _, err := h.authz.Subject(c.Request().Context()); err != nil {
		return nil, rbac.HTTPError(err)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid client_id")
	}
	cl, err := h.clients.GetByID(c.Request().Context(), id)
	if errors.Is(err, client.ErrNotFound) {
		return nil, echo.NewHTTPError(http.StatusNotFound, "Client not found")
	}
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "Internal server error")
	}
	return cl, nil
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Prescription not found")
	case errors.Is(err, ErrCatalogNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Regimen or medication not found for this category")
	case errors.Is(err, ErrProductRequired):
		return echo.NewHTTPError(http.StatusBadRequest, "regimen_id or medication_id is required")
	case errors.Is(err, ErrInvalidDateRange):
		return echo.NewHTTPError(http.StatusBadRequest, "end_date is before start_date")
	case errors.Is(err, ErrInactive):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "Prescription is not active")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "Internal server error")
	}
}
