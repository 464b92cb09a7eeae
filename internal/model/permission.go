package model

// Permission represents a string code for a specific system action.
type Permission string

const (
	// PermissionAttemptsRead allows viewing any student's attempt and its result.
	PermissionAttemptsRead Permission = "attempts:read"

	// PermissionAttemptsManage allows abandoning in-progress attempts.
	PermissionAttemptsManage Permission = "attempts:manage"
)

// AllPermissions is a slice of all available permissions.
var AllPermissions = []Permission{
	PermissionAttemptsRead,
	PermissionAttemptsManage,
}

// IsKnown reports whether p is one of AllPermissions.
func (p Permission) IsKnown() bool {
	for _, known := range AllPermissions {
		if p == known {
			return true
		}
	}
	return false
}
