package user

import (
	"errors"
	"strings"
)

// Role is a dashboard user role carried in JWT claims.
type Role string

const (
	RoleViewer Role = "VIEWER"
	RoleAdmin  Role = "ADMIN"
)

var ErrInvalidRole = errors.New("invalid role")

// ParseRole normalizes (uppercases+trims) and validates a role string.
func ParseRole(s string) (Role, error) {
	role := Role(strings.ToUpper(strings.TrimSpace(s)))
	if role.Valid() {
		return role, nil
	}
	return "", ErrInvalidRole
}

// Valid reports whether role is one of the allowed role constants.
func (role Role) Valid() bool {
	switch role {
	case RoleViewer, RoleAdmin:
		return true
	default:
		return false
	}
}

// String returns the string representation of the Role.
func (role Role) String() string {
	return string(role)
}

func (role Role) IsViewer() bool { return role == RoleViewer }
func (role Role) IsAdmin() bool  { return role == RoleAdmin }
