package auth

// Role represents an operator role. Roles form a strict ladder:
// viewers watch, operators act on alerts and commands, admins also
// change fleet configuration.
type Role string

const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

var roleRanks = map[Role]int{
	RoleViewer:   1,
	RoleOperator: 2,
	RoleAdmin:    3,
}

// NormalizeRole validates and normalizes a role string.
func NormalizeRole(value string) (Role, bool) {
	role := Role(value)
	if _, known := roleRanks[role]; !known {
		return "", false
	}
	return role, true
}

// RoleAtLeast reports whether role sits at or above required on the
// ladder. Unknown roles rank below viewer.
func RoleAtLeast(role Role, required Role) bool {
	return roleRanks[role] >= roleRanks[required]
}
