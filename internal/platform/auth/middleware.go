package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/cebuhealth/hivcare/internal/platform/rbac"
)

// SessionCookie carries the session token for browser clients.
const SessionCookie = "cebu-health-session"

// Authenticator resolves a session token; *Service implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (rbac.Subject, string, error)
}

type MiddlewareConfig struct {
	// Dev enables the development bypass for requests without credentials.
	Dev        bool
	DevSubject rbac.Subject
	Skipper    func(c echo.Context) bool
	Logger     zerolog.Logger
}

// SessionMiddleware attaches the caller to the request context when the
// request carries a valid session token (Authorization: Bearer or the session
// cookie). Requests without a valid session pass through anonymously; the
// authorizer answers them with 401.
func SessionMiddleware(authn Authenticator, cfg MiddlewareConfig) echo.MiddlewareFunc {
	if cfg.Skipper == nil {
		cfg.Skipper = AuthSkipper
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper(c) {
				return next(c)
			}

			token, err := tokenFromRequest(c.Request())
			if errors.Is(err, errNoToken) {
				if cfg.Dev && cfg.DevSubject.UserID != "" {
					setRequestContext(c, WithSubject(c.Request().Context(), cfg.DevSubject))
				}
				return next(c)
			}
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			subject, sessionID, err := authn.Authenticate(c.Request().Context(), token)
			if err != nil {
				if !errors.Is(err, ErrInvalidSession) {
					cfg.Logger.Error().Err(err).Msg("session lookup failed")
				}
				return next(c)
			}

			ctx := WithSubject(c.Request().Context(), subject)
			setRequestContext(c, withSessionID(ctx, sessionID))
			return next(c)
		}
	}
}

func setRequestContext(c echo.Context, ctx context.Context) {
	c.SetRequest(c.Request().WithContext(ctx))
}

func tokenFromRequest(r *http.Request) (string, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
			return "", errors.New("invalid authorization format")
		}
		return parts[1], nil
	}
	if ck, err := r.Cookie(SessionCookie); err == nil && ck.Value != "" {
		return ck.Value, nil
	}
	return "", errNoToken
}

// SessionCookieFor builds the cookie for a freshly issued token. A zero
// expiresAt clears the cookie.
func SessionCookieFor(token string, expiresAt time.Time, secure bool) *http.Cookie {
	ck := &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	if expiresAt.IsZero() {
		ck.MaxAge = -1
		return ck
	}
	ck.Expires = expiresAt
	ck.MaxAge = int(time.Until(expiresAt).Seconds())
	return ck
}
