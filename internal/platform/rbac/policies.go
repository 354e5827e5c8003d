package rbac

import (
	"sort"
	"strings"
)

func grant(resource Resource, scope Scope, actions ...Action) Permission {
	return Permission{Resource: resource, Actions: actions, Scope: scope}
}

// rolePermissions is built once and never written after init. Callers only
// see copies through RolePermissions and MultiRolePermissions.
var rolePermissions = buildRolePermissions()

func buildRolePermissions() map[Role][]Permission {
	const (
		c = ActionCreate
		r = ActionRead
		u = ActionUpdate
		d = ActionDelete
		l = ActionList
		x = ActionExport
		a = ActionAssign
		t = ActionTransfer
	)

	return map[Role][]Permission{
		RoleEncoder: {
			grant(ResourceClients, ScopeFacility, c, r, u, l),
			grant(ResourceEncounters, ScopeFacility, c, r, u, l),
			grant(ResourceLabPanels, ScopeFacility, c, r, l),
			grant(ResourceTasks, ScopeAssigned, r, l),
			grant(ResourceDashboard, ScopeFacility, r),
		},

		RoleDataAnalyst: {
			grant(ResourceClients, ScopeAll, r, l, x),
			grant(ResourceEncounters, ScopeAll, r, l, x),
			grant(ResourceLabPanels, ScopeAll, r, l, x),
			grant(ResourceLabResults, ScopeAll, r, l, x),
			grant(ResourcePrescriptions, ScopeAll, r, l, x),
			grant(ResourceDispenses, ScopeAll, r, l, x),
			grant(ResourceSTIHistory, ScopeAll, r, l, x),
			grant(ResourceSTIScreenings, ScopeAll, r, l, x),
			grant(ResourceReports, ScopeAll, c, r, l, x),
			grant(ResourceDashboard, ScopeAll, r),
			grant(ResourceFacilities, ScopeAll, r, l),
		},

		RolePharmacist: {
			grant(ResourceClients, ScopeFacility, r, l),
			grant(ResourcePrescriptions, ScopeFacility, c, r, u, l),
			grant(ResourceDispenses, ScopeFacility, c, r, u, d, l),
			grant(ResourceTasks, ScopeAssigned, r, u, l),
			grant(ResourceDashboard, ScopeFacility, r),
		},

		RoleNurse: {
			grant(ResourceClients, ScopeFacility, c, r, u, l),
			grant(ResourceEncounters, ScopeFacility, c, r, u, l),
			grant(ResourceLabPanels, ScopeFacility, c, r, u, l),
			grant(ResourceLabResults, ScopeFacility, r, u, l),
			grant(ResourceSTIHistory, ScopeFacility, c, r, u, l),
			grant(ResourceSTIScreenings, ScopeFacility, c, r, u, l),
			grant(ResourceTasks, ScopeAssigned, r, u, l),
			grant(ResourcePrescriptions, ScopeFacility, r, l),
			grant(ResourceDashboard, ScopeFacility, r),
		},

		RoleCaseManager: {
			grant(ResourceClients, ScopeAssigned, c, r, u, l, a, t),
			grant(ResourceEncounters, ScopeAssigned, c, r, u, l),
			grant(ResourceLabPanels, ScopeAssigned, r, l),
			grant(ResourceLabResults, ScopeAssigned, r, l),
			grant(ResourceSTIHistory, ScopeAssigned, r, u, l),
			grant(ResourceSTIScreenings, ScopeAssigned, r, l),
			grant(ResourceTasks, ScopeAssigned, c, r, u, l),
			grant(ResourcePrescriptions, ScopeAssigned, r, l),
			grant(ResourceDashboard, ScopeFacility, r),
		},

		RolePhysician: {
			grant(ResourceClients, ScopeFacility, c, r, u, l, a),
			grant(ResourceEncounters, ScopeFacility, c, r, u, d, l),
			grant(ResourceLabPanels, ScopeFacility, c, r, u, d, l),
			grant(ResourceLabResults, ScopeFacility, r, u, l),
			grant(ResourceSTIHistory, ScopeFacility, c, r, u, d, l),
			grant(ResourceSTIScreenings, ScopeFacility, c, r, u, d, l),
			grant(ResourcePrescriptions, ScopeFacility, c, r, u, d, l),
			grant(ResourceTasks, ScopeFacility, c, r, u, l),
			grant(ResourceDashboard, ScopeFacility, r),
			grant(ResourceReports, ScopeFacility, r, l),
		},

		RoleAdmin: {
			grant(ResourceUsers, ScopeFacility, c, r, u, d, l, a),
			grant(ResourceFacilities, ScopeOwn, r, u),
			grant(ResourceAuditLogs, ScopeFacility, r, l, x),
			grant(ResourceClients, ScopeFacility, c, r, u, l, t, x),
			grant(ResourceEncounters, ScopeFacility, r, l, x),
			grant(ResourceLabPanels, ScopeFacility, r, l, x),
			grant(ResourceLabResults, ScopeFacility, r, l, x),
			grant(ResourcePrescriptions, ScopeFacility, r, l, x),
			grant(ResourceDispenses, ScopeFacility, r, l, x),
			grant(ResourceSTIHistory, ScopeFacility, r, l, x),
			grant(ResourceSTIScreenings, ScopeFacility, r, l, x),
			grant(ResourceTasks, ScopeFacility, c, r, u, d, l, a),
			grant(ResourceReports, ScopeFacility, c, r, l, x),
			grant(ResourceDashboard, ScopeFacility, r),
		},

		RoleDirector: {
			grant(ResourceUsers, ScopeAll, c, r, u, d, l, a, x),
			grant(ResourceFacilities, ScopeAll, c, r, u, d, l),
			grant(ResourceAuditLogs, ScopeAll, r, l, x),
			grant(ResourceClients, ScopeAll, c, r, u, d, l, t, x),
			grant(ResourceEncounters, ScopeAll, r, u, d, l, x),
			grant(ResourceLabPanels, ScopeAll, r, u, d, l, x),
			grant(ResourceLabResults, ScopeAll, r, u, d, l, x),
			grant(ResourcePrescriptions, ScopeAll, r, u, d, l, x),
			grant(ResourceDispenses, ScopeAll, r, u, d, l, x),
			grant(ResourceSTIHistory, ScopeAll, r, u, d, l, x),
			grant(ResourceSTIScreenings, ScopeAll, r, u, d, l, x),
			grant(ResourceTasks, ScopeAll, c, r, u, d, l, a, x),
			grant(ResourceReports, ScopeAll, c, r, u, d, l, x),
			grant(ResourceDashboard, ScopeAll, r),
		},
	}
}

// AllRoles returns every known role from least to most privileged.
func AllRoles() []Role {
	roles := make([]Role, 0, len(roleLevel))
	for role := range roleLevel {
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool { return roleLevel[roles[i]] < roleLevel[roles[j]] })
	return roles
}

// RolePermissions returns a copy of the grants held by role. Unknown roles
// hold nothing.
func RolePermissions(role Role) []Permission {
	src := rolePermissions[role]
	out := make([]Permission, len(src))
	for i, p := range src {
		out[i] = p.clone()
	}
	return out
}

// MultiRolePermissions returns the union of the grants of roles. Grants that
// are identical in resource, scope and action set appear once.
func MultiRolePermissions(roles []Role) []Permission {
	seen := make(map[string]struct{})
	var out []Permission
	for _, role := range roles {
		for _, p := range rolePermissions[role] {
			k := permissionKey(p)
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, p.clone())
		}
	}
	return out
}

func permissionKey(p Permission) string {
	acts := make([]string, len(p.Actions))
	for i, a := range p.Actions {
		acts[i] = string(a)
	}
	sort.Strings(acts)
	return string(p.Resource) + "|" + string(p.Scope) + "|" + strings.Join(acts, ",")
}
