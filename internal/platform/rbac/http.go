package rbac

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// HTTPError maps authorization failures to 401 and 403. Other errors are
// returned unchanged.
func HTTPError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrAuthenticationRequired) {
		return echo.NewHTTPError(http.StatusUnauthorized, "Authentication required")
	}
	var de *DeniedError
	if errors.As(err, &de) {
		return echo.NewHTTPError(http.StatusForbidden, de.Error())
	}
	return err
}

// Require returns middleware that enforces action on resource without a
// target record. Row-level checks stay in the handlers. Grants scoped to
// assigned or own records never pass it.
func (a *Authorizer) Require(action Action, resource Resource) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if err := a.RequirePermission(c.Request().Context(), action, resource, nil); err != nil {
				return HTTPError(err)
			}
			return next(c)
		}
	}
}
