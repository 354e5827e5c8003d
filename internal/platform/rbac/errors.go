package rbac

import (
	"errors"
	"fmt"
)

// ErrAuthenticationRequired means the request carries no usable session.
var ErrAuthenticationRequired = errors.New("authentication required")

// DeniedError is returned when the caller is known but lacks the grant.
type DeniedError struct {
	Action   Action
	Resource Resource
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("Insufficient permissions to %s %s", e.Action, e.Resource)
}

// IsDenied reports whether err is, or wraps, a *DeniedError.
func IsDenied(err error) bool {
	var de *DeniedError
	return errors.As(err, &de)
}
