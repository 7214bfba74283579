package rbac

type Role string
type Action string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

const (
	ActionChat     Action = "chat"
	ActionReview   Action = "review"
	ActionOverride Action = "override"
	ActionPMWrite  Action = "pm_write"
	ActionExport   Action = "export"
	ActionAudit    Action = "audit"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleUser:
		return action == ActionChat
	default:
		return false
	}
}

// FromAdmin maps the session's admin flag to a role.
func FromAdmin(isAdmin bool) Role {
	if isAdmin {
		return RoleAdmin
	}
	return RoleUser
}

// CanAccessSession reports whether actor may read a chat session owned by
// owner. Admins can read every session.
func CanAccessSession(role Role, actor, owner string) bool {
	if role == RoleAdmin {
		return true
	}
	return role == RoleUser && actor != "" && actor == owner
}

