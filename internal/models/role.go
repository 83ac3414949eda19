package models

import "strings"

// Role is the authority a participant holds in the shop
type Role string

const (
	RoleUser    Role = "USER"
	RoleAdmin   Role = "ADMIN"
	RoleStaff   Role = "STAFF"
	RoleManager Role = "MANAGER"
)

// ParseRole normalizes a role name received from the backend
func ParseRole(s string) Role {
	switch Role(strings.ToUpper(strings.TrimSpace(s))) {
	case RoleAdmin:
		return RoleAdmin
	case RoleStaff:
		return RoleStaff
	case RoleManager:
		return RoleManager
	default:
		return RoleUser
	}
}

// IsStaff reports whether the role answers support conversations
func (r Role) IsStaff() bool {
	switch r {
	case RoleAdmin, RoleStaff, RoleManager:
		return true
	}
	return false
}

// String returns the wire name of the role
func (r Role) String() string {
	if r == "" {
		return string(RoleUser)
	}
	return string(r)
}
