package client

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/cebuhealth/hivcare/internal/domain/summary"
	"github.com/cebuhealth/hivcare/internal/platform/middleware"
	"github.com/cebuhealth/hivcare/internal/platform/rbac"
	"github.com/cebuhealth/hivcare/pkg/pagination"
	"github.com/cebuhealth/hivcare/pkg/validation"
)

// Summaries reads a client's stored clinical summary and recomputes it on
// demand; *summary.Refresher implements it.
type Summaries interface {
	Get(ctx context.Context, clientID uuid.UUID) (*summary.Summary, error)
	RefreshClient(ctx context.Context, clientID uuid.UUID) (*summary.Summary, error)
}

type Handler struct {
	svc       *Service
	authz     *rbac.Authorizer
	summaries Summaries
}

func NewHandler(svc *Service, authz *rbac.Authorizer, summaries Summaries) *Handler {
	return &Handler{svc: svc, authz: authz, summaries: summaries}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/clients")
	g.GET("", h.List)
	g.POST("", h.Create)
	g.GET("/:id", h.Get)
	g.PATCH("/:id", h.Update)
	g.PATCH("/:id/status", h.ChangeStatus)
	g.PUT("/:id/assign", h.Assign)
	g.POST("/:id/summary/refresh", h.RefreshSummary)
	g.POST("/:id/transfer", h.Transfer)
}

// Detail is a client with its clinical summary.
type Detail struct {
	*Client
	Summary *summary.Summary `json:"summary,omitempty"`
}

func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	scope, err := h.authz.ListScope(ctx, rbac.ResourceClients)
	if err != nil {
		return rbac.HTTPError(err)
	}

	f := Filter{
		Search: c.QueryParam("search"),
		Status: Status(c.QueryParam("status")),
	}
	if f.Status != "" && !ValidStatus(f.Status) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid status")
	}
	if err := applyScope(&f, scope); err != nil {
		return err
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(ctx, f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Internal server error")
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// applyScope narrows f to the rows the caller may list.
func applyScope(f *Filter, scope rbac.ListScope) error {
	switch {
	case scope.All:
	case scope.FacilityID != "":
		id, err := uuid.Parse(scope.FacilityID)
		if err != nil {
			return echo.NewHTTPError(http.StatusForbidden, "Insufficient permissions to list clients")
		}
		f.FacilityID = &id
	default:
		id, err := uuid.Parse(scope.AssignedUserID)
		if err != nil {
			return echo.NewHTTPError(http.StatusForbidden, "Insufficient permissions to list clients")
		}
		f.CaseManagerID = &id
	}
	return nil
}

func (h *Handler) Create(c echo.Context) error {
	ctx := c.Request().Context()
	var req CreateRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	subject, err := h.authz.Subject(ctx)
	if err != nil {
		return rbac.HTTPError(err)
	}
	createdBy, err := uuid.Parse(subject.UserID)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "Authentication required")
	}

	// Checked as the new client will be read back: created by the caller in
	// the caller's facility.
	record := &rbac.Record{UserID: createdBy.String(), FacilityID: subject.FacilityID}
	if req.CaseManagerID != nil {
		record.AssignedUserID = *req.CaseManagerID
	}
	if err := h.authz.RequirePermission(ctx, rbac.ActionCreate, rbac.ResourceClients, record); err != nil {
		return rbac.HTTPError(err)
	}

	var facilityID *uuid.UUID
	if id, err := uuid.Parse(subject.FacilityID); err == nil {
		facilityID = &id
	}

	created, err := h.svc.Create(ctx, req, createdBy, facilityID)
	if err != nil {
		return httpError(err)
	}
	middleware.AnnotateAudit(c, created.ID.String(), nil, created)
	return c.JSON(http.StatusCreated, created)
}

func (h *Handler) Get(c echo.Context) error {
	ctx := c.Request().Context()
	cl, err := h.load(c, rbac.ActionRead)
	if err != nil {
		return err
	}
	detail := Detail{Client: cl}
	if h.summaries != nil {
		s, err := h.summaries.Get(ctx, cl.ID)
		switch {
		case err == nil:
			detail.Summary = s
		case !errors.Is(err, summary.ErrNotFound):
			return echo.NewHTTPError(http.StatusInternalServerError, "Internal server error")
		}
	}
	return c.JSON(http.StatusOK, detail)
}

// RefreshSummary recomputes the client's clinical summary from its current
// lab and prescription history.
func (h *Handler) RefreshSummary(c echo.Context) error {
	cl, err := h.load(c, rbac.ActionUpdate)
	if err != nil {
		return err
	}
	if h.summaries == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Clinical summaries are not available")
	}
	s, err := h.summaries.RefreshClient(c.Request().Context(), cl.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Internal server error").SetInternal(err)
	}
	middleware.AnnotateAudit(c, cl.ID.String(), nil, s)
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) Update(c echo.Context) error {
	var req UpdateRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	cl, err := h.load(c, rbac.ActionUpdate)
	if err != nil {
		return err
	}
	updated, err := h.svc.Update(c.Request().Context(), cl, req)
	if err != nil {
		return httpError(err)
	}
	middleware.AnnotateAudit(c, cl.ID.String(), cl, updated)
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) ChangeStatus(c echo.Context) error {
	var req StatusRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	cl, err := h.load(c, rbac.ActionUpdate)
	if err != nil {
		return err
	}
	updated, err := h.svc.ChangeStatus(c.Request().Context(), cl, req.Status)
	if err != nil {
		return httpError(err)
	}
	middleware.AnnotateAudit(c, cl.ID.String(), map[string]Status{"status": cl.Status}, map[string]Status{"status": updated.Status})
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) Assign(c echo.Context) error {
	var req AssignRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	cl, err := h.load(c, rbac.ActionAssign)
	if err != nil {
		return err
	}
	updated, err := h.svc.Assign(c.Request().Context(), cl, parseID(req.CaseManagerID))
	if err != nil {
		return httpError(err)
	}
	middleware.AnnotateAudit(c, cl.ID.String(),
		map[string]*uuid.UUID{"case_manager_id": cl.CaseManagerID},
		map[string]*uuid.UUID{"case_manager_id": updated.CaseManagerID})
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) Transfer(c echo.Context) error {
	var req TransferRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	cl, err := h.load(c, rbac.ActionTransfer)
	if err != nil {
		return err
	}
	to := uuid.MustParse(req.FacilityID)
	updated, err := h.svc.Transfer(c.Request().Context(), cl, to)
	if err != nil {
		return httpError(err)
	}
	middleware.AnnotateAudit(c, cl.ID.String(),
		map[string]interface{}{"current_facility_id": cl.CurrentFacilityID, "status": cl.Status},
		map[string]interface{}{"current_facility_id": updated.CurrentFacilityID, "status": updated.Status})
	return c.JSON(http.StatusOK, updated)
}

// load fetches the client named by :id and checks action against it. Callers
// that may not read the client get the same 404 as for a missing id.
func (h *Handler) load(c echo.Context, action rbac.Action) (*Client, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	if _, err := h.authz.Subject(ctx); err != nil {
		return nil, rbac.HTTPError(err)
	}
	cl, err := h.svc.Get(ctx, id)
	if err != nil {
		return nil, httpError(err)
	}
	if err := h.authz.RequirePermission(ctx, action, rbac.ResourceClients, cl.Record()); err != nil {
		if rbac.IsDenied(err) && (action == rbac.ActionRead ||
			!h.authz.Can(ctx, rbac.ActionRead, rbac.ResourceClients, cl.Record())) {
			return nil, httpError(ErrNotFound)
		}
		return nil, rbac.HTTPError(err)
	}
	return cl, nil
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Client not found")
	case errors.Is(err, ErrDuplicate):
		return echo.NewHTTPError(http.StatusConflict, "Client code or UIC already exists")
	case errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "Invalid status transition")
	case errors.Is(err, ErrSameFacility):
		return echo.NewHTTPError(http.StatusBadRequest, "Client is already at that facility")
	case errors.Is(err, ErrNoFacility):
		return echo.NewHTTPError(http.StatusBadRequest, "A facility is required to enroll clients")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "Internal server error")
	}
}
