package dorm

import (
	"fmt"
	"strings"
)

// Role is the coarse permission level of whoever triggers an operation.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleStaff  Role = "staff"
	RoleTenant Role = "tenant"
)

// ParseRole accepts a role name in any case.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleAdmin, RoleStaff, RoleTenant:
		return r, nil
	}
	return "", Invalid("role", "unknown role %q", s)
}

// Actor is the identity context handed to every mutating operation.
// Authentication happens upstream; the engine only checks the role.
type Actor struct {
	ID   string
	Role Role
}

// System is used by background jobs such as the overdue sweep.
var System = Actor{ID: "system", Role: RoleAdmin}

func (a Actor) String() string { return fmt.Sprintf("%s(%s)", a.ID, a.Role) }

// Is reports whether the actor holds one of roles.
func (a Actor) Is(roles ...Role) bool {
	for _, r := range roles {
		if a.Role == r {
			return true
		}
	}
	return false
}

// RequireRole returns a PermissionError unless the actor holds one of roles.
func RequireRole(op string, a Actor, roles ...Role) error {
	if a.Is(roles...) {
		return nil
	}
	return &PermissionError{Op: op, ActorID: a.ID, Role: a.Role}
}

// RequireOperator allows admin and staff.
func RequireOperator(op string, a Actor) error {
	return RequireRole(op, a, RoleAdmin, RoleStaff)
}
