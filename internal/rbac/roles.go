package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

func IsAdmin(role string) bool { return role == RoleAdmin }
