package rbac

// EvaluateScope decides whether perm's scope admits the record for the caller
// in pctx. record may be nil when no specific row is targeted (list, create).
// Unknown scopes deny.
func EvaluateScope(perm Permission, pctx PermissionContext, record *Record) bool {
	switch perm.Scope {
	case ScopeAll:
		return true

	case ScopeFacility:
		if pctx.FacilityID == "" {
			return false
		}
		// Without a record the caller filters its query by facility itself.
		if record == nil {
			return true
		}
		return record.FacilityID == pctx.FacilityID

	case ScopeOwn:
		if record == nil || pctx.UserID == "" {
			return false
		}
		return record.UserID == pctx.UserID

	case ScopeAssigned:
		if record == nil || pctx.UserID == "" {
			return false
		}
		return record.AssignedUserID == pctx.UserID || record.UserID == pctx.UserID

	default:
		return false
	}
}
