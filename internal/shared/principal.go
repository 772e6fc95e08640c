package shared

// Role identifies what a user account may do in the portal.
type Role string

const (
	// RoleStudent is assigned to every self-registered account.
	RoleStudent Role = "student"
	// RoleAdmin reviews applications.
	RoleAdmin Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleStudent || r == RoleAdmin
}

// Principal is the authenticated identity handed to services for a single request.
type Principal struct {
	UserID int64
	Name   string
	Email  string
	Role   Role
}

// IsAdmin reports whether the principal holds the admin role.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// HasRole reports whether the principal holds any of the given roles.
func (p Principal) HasRole(roles ...Role) bool {
	for _, r := range roles {
		if p.Role == r {
			return true
		}
	}
	return false
}
