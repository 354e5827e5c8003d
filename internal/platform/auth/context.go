package auth

import (
	"context"

	"github.com/cebuhealth/hivcare/internal/platform/rbac"
)

type contextKey string

const (
	subjectKey   contextKey = "subject"
	sessionIDKey contextKey = "session_id"
)

// WithSubject stores the authenticated caller in ctx.
func WithSubject(ctx context.Context, s rbac.Subject) context.Context {
	return context.WithValue(ctx, subjectKey, s)
}

// SubjectFromContext returns the caller stored by the session middleware. It
// satisfies rbac.SubjectResolver.
func SubjectFromContext(ctx context.Context) (rbac.Subject, bool) {
	s, ok := ctx.Value(subjectKey).(rbac.Subject)
	return s, ok
}

func UserIDFromContext(ctx context.Context) string {
	s, _ := SubjectFromContext(ctx)
	return s.UserID
}

func RolesFromContext(ctx context.Context) []string {
	s, _ := SubjectFromContext(ctx)
	roles := make([]string, len(s.Roles))
	for i, r := range s.Roles {
		roles[i] = string(r)
	}
	return roles
}

func withSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// SessionIDFromContext returns the id of the session row behind the request,
// empty for the development bypass.
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey).(string)
	return id
}
