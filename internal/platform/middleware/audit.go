package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/cebuhealth/hivcare/internal/platform/audit"
	"github.com/cebuhealth/hivcare/internal/platform/auth"
)

// Context keys a handler may set to enrich the request audit entry.
const (
	AuditEntityIDKey = "audit_entity_id"
	AuditBeforeKey   = "audit_before"
	AuditAfterKey    = "audit_after"
	AuditSkipKey     = "audit_skip"
)

// readAudited lists the entities whose reads are recorded: detail reads with
// the record id, list reads once without one.
var readAudited = map[string]bool{
	"clients":       true,
	"lab_panels":    true,
	"prescriptions": true,
}

// collections maps path segments to audit entity names.
var collections = map[string]string{
	"clients":       "clients",
	"encounters":    "encounters",
	"panels":        "lab_panels",
	"results":       "lab_results",
	"prescriptions": "prescriptions",
	"dispenses":     "dispenses",
	"tasks":         "tasks",
	"dashboard":     "dashboard",
}

// Audit records one entry per successful request under /api/. Sign-in and
// batch job routes write their own entries and are skipped.
func Audit(sink *audit.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path
			if !isAuditablePath(path) {
				return next(c)
			}

			err := next(c)
			if err != nil {
				return err
			}
			status := c.Response().Status
			if status < 200 || status >= 300 {
				return nil
			}
			if skip, _ := c.Get(AuditSkipKey).(bool); skip {
				return nil
			}

			entity, id := extractEntity(path)
			action := httpMethodToAction(req.Method)
			if action == audit.ActionRead && !readAudited[entity] {
				return nil
			}
			if v, ok := c.Get(AuditEntityIDKey).(string); ok && v != "" {
				id = v
			}

			sink.Log(req.Context(), audit.Entry{
				UserID:    auth.UserIDFromContext(req.Context()),
				ActorType: audit.ActorUser,
				Action:    action,
				Entity:    entity,
				EntityID:  id,
				Before:    c.Get(AuditBeforeKey),
				After:     c.Get(AuditAfterKey),
				IP:        c.RealIP(),
				UserAgent: req.UserAgent(),
			})
			return nil
		}
	}
}

func isAuditablePath(path string) bool {
	if !strings.HasPrefix(path, "/api/") {
		return false
	}
	return !strings.HasPrefix(path, "/api/auth/") && !strings.HasPrefix(path, "/api/jobs/")
}

func httpMethodToAction(method string) audit.Action {
	switch method {
	case http.MethodPost:
		return audit.ActionCreate
	case http.MethodPut, http.MethodPatch:
		return audit.ActionUpdate
	case http.MethodDelete:
		return audit.ActionDelete
	default:
		return audit.ActionRead
	}
}

// AnnotateAudit attaches the record id and before/after snapshots to the
// entry written for the current request. Nil snapshots are left out.
func AnnotateAudit(c echo.Context, entityID string, before, after interface{}) {
	if entityID != "" {
		c.Set(AuditEntityIDKey, entityID)
	}
	if before != nil {
		c.Set(AuditBeforeKey, before)
	}
	if after != nil {
		c.Set(AuditAfterKey, after)
	}
}

// extractEntity returns the entity name and, when present, the record id for
// paths shaped like /api/<collection>[/<id>[/...]]. The id is the innermost
// UUID segment, so /api/clients/<a>/status yields ("clients", a) and
// /api/labs/panels/<b>/results yields ("lab_results", "").
func extractEntity(path string) (string, string) {
	segments := strings.Split(strings.Trim(strings.TrimPrefix(path, "/api/"), "/"), "/")
	entity, id := "unknown", ""
	for i, seg := range segments {
		if seg == "" {
			continue
		}
		if isUUIDLike(seg) {
			id = seg
			continue
		}
		if name, ok := collections[seg]; ok {
			entity, id = name, ""
		} else if i == 0 {
			entity = seg
		}
	}
	return entity, id
}

func isUUIDLike(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
