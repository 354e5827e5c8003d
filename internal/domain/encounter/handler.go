package encounter

import (
	"errors"
	"net/http"

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
	g := api.Group("/encounters")
	g.POST("", h.Create)
	g.GET("", h.List)
}

func (h *Handler) Create(c echo.Context) error {
	var req CreateRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	subject, err := h.authz.Subject(ctx)
	if err != nil {
		return rbac.HTTPError(err)
	}
	cl, err := h.client(c, req.ClientID)
	if err != nil {
		return err
	}
	var clinician *uuid.UUID
	if id, err := uuid.Parse(subject.UserID); err == nil {
		clinician = &id
	}
	if err := h.authz.RequirePermission(ctx, rbac.ActionCreate, rbac.ResourceEncounters, cl.ChildRecord(clinician)); err != nil {
		return rbac.HTTPError(err)
	}

	e, err := h.svc.Create(ctx, cl, req, clinician)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Internal server error")
	}
	middleware.AnnotateAudit(c, e.ID.String(), nil, e)
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	if _, err := h.authz.Subject(ctx); err != nil {
		return rbac.HTTPError(err)
	}
	if c.QueryParam("client_id") == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "client_id is required")
	}
	cl, err := h.client(c, c.QueryParam("client_id"))
	if err != nil {
		return err
	}
	if err := h.authz.RequirePermission(ctx, rbac.ActionList, rbac.ResourceEncounters, cl.ChildRecord(nil)); err != nil {
		return rbac.HTTPError(err)
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByClient(ctx, cl.ID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Internal server error")
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) client(c echo.Context, raw string) (*client.Client, error) {
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
