package models

// Roles a caller can hold.
const (
	RoleAdmin   = "admin"
	RoleStaff   = "staff"
	RoleCitizen = "citizen"
)

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID     string `json:"userId"`
	Role       string `json:"role"`
	Department string `json:"department,omitempty"`
}

// IsStaff reports whether p may use the administration endpoints.
func (p Principal) IsStaff() bool {
	return p.Role == RoleAdmin || p.Role == RoleStaff
}

// CanAccess reports whether p may view or update c. Admins see everything,
// staff with a department only see that department's complaints (plus
// unassigned ones), citizens only their own.
func (p Principal) CanAccess(c *Complaint) bool {
	switch p.Role {
	case RoleAdmin:
		return true
	case RoleStaff:
		return p.Department == "" || c.Department == "" || c.Department == p.Department
	default:
		return c.UserID == p.UserID
	}
}
