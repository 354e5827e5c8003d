package task

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
	g := api.Group("/tasks")
	g.GET("", h.List)
	g.POST("", h.Create)
	g.GET("/:id", h.Get)
	g.PATCH("/:id", h.Update)
	g.PUT("/:id/assign", h.Assign)
}

// ListResponse is a page of tasks with counts over the filtered set.
type ListResponse struct {
	*pagination.Response
	Summary Counts `json:"summary"`
}

func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	scope, err := h.authz.ListScope(ctx, rbac.ResourceTasks)
	if err != nil {
		return rbac.HTTPError(err)
	}

	f := Filter{
		Status: Status(c.QueryParam("status")),
		Type:   Type(c.QueryParam("type")),
	}
	if raw := c.QueryParam("client_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid client_id")
		}
		f.ClientID = &id
	}
	if raw := c.QueryParam("overdue"); raw != "" {
		overdue, err := strconv.ParseBool(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid overdue flag")
		}
		f.Overdue = overdue
	}
	switch {
	case scope.All:
	case scope.FacilityID != "":
		id, err := uuid.Parse(scope.FacilityID)
		if err != nil {
			return rbac.HTTPError(&rbac.DeniedError{Action: rbac.ActionList, Resource: rbac.ResourceTasks})
		}
		f.FacilityID = &id
	default:
		id, err := uuid.Parse(scope.AssignedUserID)
		if err != nil {
			return rbac.HTTPError(&rbac.DeniedError{Action: rbac.ActionList, Resource: rbac.ResourceTasks})
		}
		f.AssignedUserID = &id
	}

	pg := pagination.FromContext(c)
	items, total, counts, err := h.svc.List(ctx, f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Internal server error")
	}
	if items == nil {
		items = []*Task{}
	}
	return c.JSON(http.StatusOK, ListResponse{
		Response: pagination.NewResponse(items, total, pg.Limit, pg.Offset),
		Summary:  counts,
	})
}

func (h *Handler) Create(c echo.Context) error {
	var req CreateRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	req.Title = middleware.SanitizeString(req.Title)
	if req.Title == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Title is required")
	}
	if req.Description != nil {
		d := middleware.SanitizeString(*req.Description)
		req.Description = &d
	}
	ctx := c.Request().Context()
	subject, err := h.authz.Subject(ctx)
	if err != nil {
		return rbac.HTTPError(err)
	}
	createdBy, err := uuid.Parse(subject.UserID)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "Authentication required")
	}

	// The new task is checked as it will be read back: in its client's
	// facility, or the caller's when it has no client.
	record := &rbac.Record{UserID: createdBy.String(), FacilityID: subject.FacilityID}
	if req.AssignedTo != nil {
		record.AssignedUserID = *req.AssignedTo
	}
	if req.ClientID != nil && *req.ClientID != "" {
		cl, err := h.client(c, *req.ClientID)
		if err != nil {
			return err
		}
		record.FacilityID = cl.CurrentFacilityID.String()
	}
	if err := h.authz.RequirePermission(ctx, rbac.ActionCreate, rbac.ResourceTasks, record); err != nil {
		return rbac.HTTPError(err)
	}

	t, err := h.svc.Create(ctx, req, createdBy)
	if err != nil {
		return httpError(err)
	}
	middleware.AnnotateAudit(c, t.ID.String(), nil, t)
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) Get(c echo.Context) error {
	t, err := h.load(c, rbac.ActionRead)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) Update(c echo.Context) error {
	var req UpdateRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	t, err := h.load(c, rbac.ActionUpdate)
	if err != nil {
		return err
	}
	subject, _ := h.authz.Subject(c.Request().Context())
	by, err := uuid.Parse(subject.UserID)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "Authentication required")
	}
	updated, err := h.svc.Update(c.Request().Context(), t, req, by)
	if err != nil {
		return httpError(err)
	}
	middleware.AnnotateAudit(c, t.ID.String(),
		map[string]interface{}{"status": t.Status, "priority": t.Priority, "due_date": t.DueDate},
		map[string]interface{}{"status": updated.Status, "priority": updated.Priority, "due_date": updated.DueDate})
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) Assign(c echo.Context) error {
	var req AssignRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	t, err := h.load(c, rbac.ActionAssign)
	if err != nil {
		return err
	}
	updated, err := h.svc.Assign(c.Request().Context(), t, parseID(req.AssignedTo))
	if err != nil {
		return httpError(err)
	}
	middleware.AnnotateAudit(c, t.ID.String(),
		map[string]*uuid.UUID{"assigned_to": t.AssignedTo},
		map[string]*uuid.UUID{"assigned_to": updated.AssignedTo})
	return c.JSON(http.StatusOK, updated)
}

// load fetches the task named by :id and checks action against it.
func (h *Handler) load(c echo.Context, action rbac.Action) (*Task, error) {
	ctx := c.Request().Context()
	if _, err := h.authz.Subject(ctx); err != nil {
		return nil, rbac.HTTPError(err)
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	t, err := h.svc.Get(ctx, id)
	if err != nil {
		return nil, httpError(err)
	}
	if err := h.authz.RequirePermission(ctx, action, rbac.ResourceTasks, t.Record()); err != nil {
		return nil, rbac.HTTPError(err)
	}
	return t, nil
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

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Task not found")
	case errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "Task is already closed")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "Internal server error")
	}
}
