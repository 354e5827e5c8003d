package rbac

import "context"

// SubjectResolver returns the caller of the current request, if any.
type SubjectResolver func(ctx context.Context) (Subject, bool)

// Authorizer answers permission questions for the caller carried by a
// request context.
type Authorizer struct {
	resolve SubjectResolver
}

func NewAuthorizer(resolve SubjectResolver) *Authorizer {
	return &Authorizer{resolve: resolve}
}

// Can reports whether the caller may perform action on resource, optionally
// touching record. A missing session yields false.
func (a *Authorizer) Can(ctx context.Context, action Action, resource Resource, record *Record) bool {
	s, ok := a.subject(ctx)
	if !ok {
		UnauthenticatedTotal.Inc()
		return false
	}
	return CanWithSubject(s, action, resource, record)
}

// RequirePermission is Can that fails with ErrAuthenticationRequired or a
// *DeniedError instead of returning false.
func (a *Authorizer) RequirePermission(ctx context.Context, action Action, resource Resource, record *Record) error {
	s, ok := a.subject(ctx)
	if !ok {
		UnauthenticatedTotal.Inc()
		return ErrAuthenticationRequired
	}
	return RequirePermissionWithSubject(s, action, resource, record)
}

// Subject returns the caller or ErrAuthenticationRequired.
func (a *Authorizer) Subject(ctx context.Context) (Subject, error) {
	s, ok := a.subject(ctx)
	if !ok {
		return Subject{}, ErrAuthenticationRequired
	}
	return s, nil
}

func (a *Authorizer) subject(ctx context.Context) (Subject, bool) {
	if a == nil || a.resolve == nil {
		return Subject{}, false
	}
	s, ok := a.resolve(ctx)
	if !ok || s.UserID == "" {
		return Subject{}, false
	}
	return s, true
}

// CanWithSubject grants when any permission held by the subject's roles names
// the resource and action and its scope admits the record.
func CanWithSubject(s Subject, action Action, resource Resource, record *Record) bool {
	pctx := NewPermissionContext(s, record)
	allowed := false
	for _, p := range MultiRolePermissions(s.Roles) {
		if p.Resource != resource || !p.Allows(action) {
			continue
		}
		if EvaluateScope(p, pctx, record) {
			allowed = true
			break
		}
	}
	recordDecision(resource, action, allowed)
	return allowed
}

// RequirePermissionWithSubject returns a *DeniedError when CanWithSubject is false.
func RequirePermissionWithSubject(s Subject, action Action, resource Resource, record *Record) error {
	if !CanWithSubject(s, action, resource, record) {
		return &DeniedError{Action: action, Resource: resource}
	}
	return nil
}

// AccessibleResources lists, without duplicates, the resources on which the
// subject holds action under any scope.
func AccessibleResources(s Subject, action Action) []Resource {
	seen := make(map[Resource]struct{})
	var out []Resource
	for _, p := range MultiRolePermissions(s.Roles) {
		if !p.Allows(action) {
			continue
		}
		if _, dup := seen[p.Resource]; dup {
			continue
		}
		seen[p.Resource] = struct{}{}
		out = append(out, p.Resource)
	}
	return out
}

// ListScope is the row filter a list query must apply for a caller.
type ListScope struct {
	All            bool
	FacilityID     string
	AssignedUserID string
}

// ListScopeFor picks the broadest scope among the subject's grants for action
// on resource. ok is false when no grant applies.
func ListScopeFor(s Subject, action Action, resource Resource) (ListScope, bool) {
	var facility, assigned bool
	for _, p := range MultiRolePermissions(s.Roles) {
		if p.Resource != resource || !p.Allows(action) {
			continue
		}
		switch p.Scope {
		case ScopeAll:
			return ListScope{All: true}, true
		case ScopeFacility:
			facility = facility || s.FacilityID != ""
		case ScopeAssigned, ScopeOwn:
			assigned = true
		}
	}
	switch {
	case facility:
		return ListScope{FacilityID: s.FacilityID}, true
	case assigned:
		return ListScope{AssignedUserID: s.UserID}, true
	}
	return ListScope{}, false
}

// ListScope resolves the caller and the row filter for listing resource.
func (a *Authorizer) ListScope(ctx context.Context, resource Resource) (ListScope, error) {
	s, err := a.Subject(ctx)
	if err != nil {
		return ListScope{}, err
	}
	ls, ok := ListScopeFor(s, ActionList, resource)
	recordDecision(resource, ActionList, ok)
	if !ok {
		return ListScope{}, &DeniedError{Action: ActionList, Resource: resource}
	}
	return ls, nil
}

func hasRole(s Subject, role Role) bool {
	for _, held := range s.Roles {
		if held == role {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the subject holds at least one of roles.
func HasAnyRole(s Subject, roles ...Role) bool {
	for _, r := range roles {
		if hasRole(s, r) {
			return true
		}
	}
	return false
}

// HasAllRoles reports whether the subject holds every one of roles.
func HasAllRoles(s Subject, roles ...Role) bool {
	for _, r := range roles {
		if !hasRole(s, r) {
			return false
		}
	}
	return true
}

// HasHigherOrEqualRole compares two roles on the privilege ladder. Unknown
// roles rank at zero.
func HasHigherOrEqualRole(userRole, requiredRole Role) bool {
	return roleLevel[userRole] >= roleLevel[requiredRole]
}
