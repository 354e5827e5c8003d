// Package rbac decides whether a signed-in staff member may perform an action
// on a protected resource, using a static role table and record scopes.
package rbac

import "strings"

type Role string

const (
	RoleEncoder     Role = "ENCODER"
	RoleDataAnalyst Role = "DATA_ANALYST"
	RolePharmacist  Role = "PHARMACIST"
	RoleNurse       Role = "NURSE"
	RoleCaseManager Role = "CASE_MANAGER"
	RolePhysician   Role = "PHYSICIAN"
	RoleAdmin       Role = "ADMIN"
	RoleDirector    Role = "DIRECTOR"
)

// roleLevel orders roles from least to most privileged. It is used only for
// coarse comparisons such as "at least an admin", never for permission checks.
var roleLevel = map[Role]int{
	RoleEncoder:     1,
	RoleDataAnalyst: 2,
	RolePharmacist:  3,
	RoleNurse:       4,
	RoleCaseManager: 5,
	RolePhysician:   6,
	RoleAdmin:       7,
	RoleDirector:    8,
}

// ParseRole normalises s and reports whether it names a known role.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := roleLevel[r]
	return r, ok
}

// ParseRoles keeps the known roles from ss, preserving order.
func ParseRoles(ss []string) []Role {
	out := make([]Role, 0, len(ss))
	for _, s := range ss {
		if r, ok := ParseRole(s); ok {
			out = append(out, r)
		}
	}
	return out
}

type Resource string

const (
	ResourceClients       Resource = "clients"
	ResourceEncounters    Resource = "encounters"
	ResourceLabPanels     Resource = "lab_panels"
	ResourceLabResults    Resource = "lab_results"
	ResourcePrescriptions Resource = "prescriptions"
	ResourceDispenses     Resource = "dispenses"
	ResourceSTIHistory    Resource = "sti_history"
	ResourceSTIScreenings Resource = "sti_screenings"
	ResourceTasks         Resource = "tasks"
	ResourceUsers         Resource = "users"
	ResourceFacilities    Resource = "facilities"
	ResourceAuditLogs     Resource = "audit_logs"
	ResourceReports       Resource = "reports"
	ResourceDashboard     Resource = "dashboard"
)

type Action string

const (
	ActionCreate   Action = "create"
	ActionRead     Action = "read"
	ActionUpdate   Action = "update"
	ActionDelete   Action = "delete"
	ActionList     Action = "list"
	ActionExport   Action = "export"
	ActionAssign   Action = "assign"
	ActionTransfer Action = "transfer"
)

type Scope string

const (
	ScopeOwn      Scope = "own"
	ScopeFacility Scope = "facility"
	ScopeAssigned Scope = "assigned"
	ScopeAll      Scope = "all"
)

// Permission grants a set of actions on one resource, limited by scope.
type Permission struct {
	Resource Resource `json:"resource"`
	Actions  []Action `json:"actions"`
	Scope    Scope    `json:"scope"`
}

// Allows reports whether the permission lists action.
func (p Permission) Allows(action Action) bool {
	for _, a := range p.Actions {
		if a == action {
			return true
		}
	}
	return false
}

func (p Permission) clone() Permission {
	p.Actions = append([]Action(nil), p.Actions...)
	return p
}

// Subject is the authenticated caller as resolved from the session.
type Subject struct {
	UserID     string `json:"user_id"`
	Roles      []Role `json:"roles"`
	FacilityID string `json:"facility_id,omitempty"`
}

// Record carries the ownership fields of the row being acted on. Empty
// strings mean the field is absent.
type Record struct {
	UserID         string
	FacilityID     string
	AssignedUserID string
}

// PermissionContext is what the scope evaluator sees for one decision.
type PermissionContext struct {
	UserID             string
	Roles              []Role
	FacilityID         string
	ResourceOwnerID    string
	ResourceFacilityID string
	AssignedUserID     string
}

// NewPermissionContext combines the caller with the optional target record.
func NewPermissionContext(s Subject, record *Record) PermissionContext {
	pctx := PermissionContext{
		UserID:     s.UserID,
		Roles:      s.Roles,
		FacilityID: s.FacilityID,
	}
	if record != nil {
		pctx.ResourceOwnerID = record.UserID
		pctx.ResourceFacilityID = record.FacilityID
		pctx.AssignedUserID = record.AssignedUserID
	}
	return pctx
}
