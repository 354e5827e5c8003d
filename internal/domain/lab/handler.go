package lab

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
	g := api.Group("/labs/panels")
	g.GET("", h.ListPanels)
	g.POST("", h.CreatePanel)
	g.GET("/:id", h.GetPanel)
	g.PATCH("/:id", h.UpdatePanel)
	g.POST("/:id/results", h.AddResult)
}

func (h *Handler) ListPanels(c echo.Context) error {
	ctx := c.Request().Context()
	f := Filter{PanelType: c.QueryParam("panel_type"), Status: Status(c.QueryParam("status"))}

	if raw := c.QueryParam("client_id"); raw != "" {
		cl, err := h.client(c, raw)
		if err != nil {
			return err
		}
		if err := h.authz.RequirePermission(ctx, rbac.ActionList, rbac.ResourceLabPanels, cl.ChildRecord(nil)); err != nil {
			return rbac.HTTPError(err)
		}
		f.ClientID = &cl.ID
	} else {
		scope, err := h.authz.ListScope(ctx, rbac.ResourceLabPanels)
		if err != nil {
			return rbac.HTTPError(err)
		}
		if !scope.All {
			if id, err := uuid.Parse(scope.FacilityID); err == nil {
				f.FacilityID = &id
			} else if id, err := uuid.Parse(scope.AssignedUserID); err == nil {
				f.AssignedUserID = &id
			} else {
				return rbac.HTTPError(&rbac.DeniedError{Action: rbac.ActionList, Resource: rbac.ResourceLabPanels})
			}
		}
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(ctx, f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Internal server error")
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) CreatePanel(c echo.Context) error {
	var req CreatePanelRequest
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
	var createdBy *uuid.UUID
	if id, err := uuid.Parse(subject.UserID); err == nil {
		createdBy = &id
	}
	if err := h.authz.RequirePermission(ctx, rbac.ActionCreate, rbac.ResourceLabPanels, cl.ChildRecord(createdBy)); err != nil {
		return rbac.HTTPError(err)
	}

	p, err := h.svc.CreatePanel(ctx, cl.ID, req, createdBy)
	if err != nil {
		return httpError(err)
	}
	middleware.AnnotateAudit(c, p.ID.String(), nil, p)
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPanel(c echo.Context) error {
	p, err := h.panel(c, rbac.ActionRead, rbac.ResourceLabPanels)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) UpdatePanel(c echo.Context) error {
	var req UpdatePanelRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	p, err := h.panel(c, rbac.ActionUpdate, rbac.ResourceLabPanels)
	if err != nil {
		return err
	}
	updated, err := h.svc.Update(c.Request().Context(), p, req)
	if err != nil {
		return httpError(err)
	}
	middleware.AnnotateAudit(c, p.ID.String(), p, updated)
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) AddResult(c echo.Context) error {
	var req AddResultRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	p, err := h.panel(c, rbac.ActionUpdate, rbac.ResourceLabResults)
	if err != nil {
		return err
	}
	res, err := h.svc.AddResult(c.Request().Context(), p, req)
	if err != nil {
		return httpError(err)
	}
	middleware.AnnotateAudit(c, res.ID.String(), nil, res)
	return c.JSON(http.StatusCreated, res)
}

// panel loads the panel named by :id and checks action on resource against
// the owning client.
func (h *Handler) panel(c echo.Context, action rbac.Action, resource rbac.Resource) (*Panel, error) {
	ctx := c.Request().Context()
	if _, err := h.authz.Subject(ctx); err != nil {
		return nil, rbac.HTTPError(err)
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.Get(ctx, id)
	if err != nil {
		return nil, httpError(err)
	}
	cl, err := h.clients.GetByID(ctx, p.ClientID)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "Internal server error")
	}
	if err := h.authz.RequirePermission(ctx, action, resource, cl.ChildRecord(p.CreatedBy)); err != nil {
		return nil, rbac.HTTPError(err)
	}
	return p, nil
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
		return echo.NewHTTPError(http.StatusNotFound, "Lab panel not found")
	case errors.Is(err, ErrInvalidValue):
		return echo.NewHTTPError(http.StatusBadRequest, "Either value_num or value_text must be provided")
	case errors.Is(err, ErrInvalidRange):
		return echo.NewHTTPError(http.StatusBadRequest, "ref_low must not exceed ref_high")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "Internal server error")
	}
}
