package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/cebuhealth/hivcare/internal/platform/audit"
	"github.com/cebuhealth/hivcare/pkg/validation"
)

type Handler struct {
	svc          *Service
	audit        *audit.Logger
	secureCookie bool
}

func NewHandler(svc *Service, auditLog *audit.Logger, secureCookie bool) *Handler {
	return &Handler{svc: svc, audit: auditLog, secureCookie: secureCookie}
}

// RegisterRoutes mounts the sign-in flow under /auth. throttle, when not nil,
// guards the two OTP endpoints.
func (h *Handler) RegisterRoutes(api *echo.Group, throttle echo.MiddlewareFunc) {
	g := api.Group("/auth")
	otp := g.Group("/otp")
	if throttle != nil {
		otp.Use(throttle)
	}
	otp.POST("/request", h.RequestOTP)
	otp.POST("/verify", h.VerifyOTP)

	g.POST("/logout", h.Logout)
	g.GET("/me", h.Me)
}

func (h *Handler) RequestOTP(c echo.Context) error {
	var req OTPRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	res, err := h.svc.RequestOTP(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":    true,
		"sent_to":    res.SentTo,
		"expires_at": res.ExpiresAt,
	})
}

func (h *Handler) VerifyOTP(c echo.Context) error {
	var req OTPVerifyRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	res, err := h.svc.VerifyOTP(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}

	c.SetCookie(SessionCookieFor(res.Token, res.ExpiresAt, h.secureCookie))
	h.audit.Log(c.Request().Context(), audit.Entry{
		UserID:    res.User.ID.String(),
		ActorType: audit.ActorUser,
		Action:    audit.ActionLogin,
		Entity:    "users",
		EntityID:  res.User.ID.String(),
		IP:        c.RealIP(),
		UserAgent: c.Request().UserAgent(),
	})

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":    true,
		"token":      res.Token,
		"expires_at": res.ExpiresAt,
		"user": map[string]interface{}{
			"id":           res.User.ID,
			"email":        res.User.Email,
			"display_name": res.User.DisplayName,
			"roles":        res.User.Roles,
			"facility_id":  res.User.FacilityID,
		},
	})
}

func (h *Handler) Logout(c echo.Context) error {
	if userID := UserIDFromContext(c.Request().Context()); userID != "" && SessionIDFromContext(c.Request().Context()) != "" {
		if err := h.svc.Logout(c.Request().Context(), userID); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "Internal server error")
		}
	}
	c.SetCookie(SessionCookieFor("", time.Time{}, h.secureCookie))
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) Me(c echo.Context) error {
	subject, ok := SubjectFromContext(c.Request().Context())
	if !ok || subject.UserID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "Authentication required")
	}
	u, err := h.svc.Me(c.Request().Context(), subject.UserID)
	if errors.Is(err, ErrUserNotFound) {
		// development bypass users need not exist
		return c.JSON(http.StatusOK, subject)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Internal server error")
	}
	return c.JSON(http.StatusOK, u)
}

func httpError(err error) error {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		return echo.NewHTTPError(http.StatusBadRequest, verr.Error())
	case errors.Is(err, ErrUserNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "User not found")
	case errors.Is(err, ErrOTPExpired):
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid or expired OTP")
	case errors.Is(err, ErrInvalidOTP):
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid OTP")
	case errors.Is(err, ErrTooManyAttempts):
		return echo.NewHTTPError(http.StatusTooManyRequests, "Too many attempts. Please request a new code.")
	case errors.Is(err, ErrDeliveryFailed):
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to send OTP")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "Internal server error")
	}
}
