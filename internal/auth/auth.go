// Package auth carries caller identity and role grants into mutating oracle
// operations. There is no ambient authority: every mutator receives a
// Context and checks it against the roles the operation requires.
package auth

import (
	"fmt"
	"strings"
)

// Role names a grant required by role-gated operations.
type Role string

const (
	// RoleOracleManager may change feeds, thresholds, composite
	// registrations, oracle routing, and the default override lifetime.
	RoleOracleManager Role = "ORACLE_MANAGER"

	// RoleGuardian may freeze and unfreeze assets. Both roles may set and
	// clear price overrides, so either can act in an emergency.
	RoleGuardian Role = "GUARDIAN"
)

// ParseRole maps a config/API role string to a known Role.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToUpper(strings.TrimSpace(s))) {
	case RoleOracleManager:
		return RoleOracleManager, nil
	case RoleGuardian:
		return RoleGuardian, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Context identifies a caller and the roles granted to it. The zero value
// carries no grants and fails every check.
type Context struct {
	actor string
	roles map[Role]struct{}
}

// NewContext builds a Context for an actor with the given grants.
func NewContext(actor string, roles ...Role) Context {
	granted := make(map[Role]struct{}, len(roles))
	for _, r := range roles {
		granted[r] = struct{}{}
	}
	return Context{actor: actor, roles: granted}
}

// Actor returns the caller identity, used in audit events.
func (c Context) Actor() string { return c.actor }

// Has reports whether the context carries the given role.
func (c Context) Has(role Role) bool {
	_, ok := c.roles[role]
	return ok
}

// UnauthorizedError reports a role check failure: the actor holds none of
// the roles the operation accepts.
type UnauthorizedError struct {
	Actor    string
	Required []Role
}

func (e *UnauthorizedError) Error() string {
	names := make([]string, len(e.Required))
	for i, r := range e.Required {
		names[i] = string(r)
	}
	return fmt.Sprintf("account %q is missing role %s", e.Actor, strings.Join(names, " or "))
}

// RequireAny passes when the context holds at least one of the given roles.
func RequireAny(c Context, roles ...Role) error {
	for _, r := range roles {
		if c.Has(r) {
			return nil
		}
	}
	return &UnauthorizedError{Actor: c.actor, Required: roles}
}
