package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Role tags an account with the workflow capabilities it holds.
type Role string

// Known roles. The set is closed; anything else is rejected by ParseRole.
const (
	RoleStudent     Role = "student"
	RoleFaculty     Role = "faculty"
	RoleLabIncharge Role = "labincharge"
	RoleAdmin       Role = "admin"
)

// ErrInvalidRole is returned for role strings outside the known set.
var ErrInvalidRole = errors.New("invalid role")

// Roles lists every valid role in display order.
func Roles() []Role {
	return []Role{RoleStudent, RoleFaculty, RoleLabIncharge, RoleAdmin}
}

// ParseRole normalizes and validates a role string.
func ParseRole(value string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	if !role.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, value)
	}
	return role, nil
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleFaculty, RoleLabIncharge, RoleAdmin:
		return true
	default:
		return false
	}
}

// OneOf reports whether r matches any of the given roles.
func (r Role) OneOf(roles ...Role) bool {
	for _, candidate := range roles {
		if r == candidate {
			return true
		}
	}
	return false
}

func (r Role) String() string {
	return string(r)
}
