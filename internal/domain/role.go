package domain

import "strings"

// Role names an account partition.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleSecurity Role = "security"
	RoleHost     Role = "host"
	RoleVisitor  Role = "visitor"
)

// LoginPrecedence is the order in which partitions are searched for a
// username during login.
var LoginPrecedence = []Role{RoleAdmin, RoleSecurity, RoleHost, RoleVisitor}

var validRoles = map[Role]bool{
	RoleAdmin:    true,
	RoleSecurity: true,
	RoleHost:     true,
	RoleVisitor:  true,
}

// ParseRole accepts role names case-insensitively ("Host", "host").
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !validRoles[r] {
		return "", false
	}
	return r, true
}

func (r Role) String() string { return string(r) }

// registrars lists which roles may create accounts of a given role.
var registrars = map[Role][]Role{
	RoleAdmin:    {RoleAdmin},
	RoleSecurity: {RoleAdmin},
	RoleHost:     {RoleAdmin},
	RoleVisitor:  {RoleAdmin, RoleSecurity},
}

// CanRegister reports whether an account with role by may register an
// account with role target.
func CanRegister(by, target Role) bool {
	for _, r := range registrars[target] {
		if r == by {
			return true
		}
	}
	return false
}

// CanIssuePasses reports whether the role may issue visitor passes.
func (r Role) CanIssuePasses() bool {
	return r == RoleSecurity || r == RoleHost
}

// PassKind returns the pass subtype issued by the role.
func (r Role) PassKind() (PassKind, bool) {
	switch r {
	case RoleSecurity:
		return PassKindSecurity, true
	case RoleHost:
		return PassKindHost, true
	}
	return "", false
}
