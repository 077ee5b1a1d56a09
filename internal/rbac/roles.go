package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleClient  = "client"
	RoleAnalyst = "analyst"
	RoleAdmin   = "admin"
	RoleSystem  = "system" // hidden role, internal automation only
)

func IsAdmin(role string) bool { return role == RoleAdmin }

func IsHiddenRole(role string) bool { return role == RoleSystem }
