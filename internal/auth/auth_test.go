package auth

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	role, err := ParseRole("oracle_manager")
	require.NoError(t, err)
	require.Equal(t, RoleOracleManager, role)

	role, err = ParseRole(" GUARDIAN ")
	require.NoError(t, err)
	require.Equal(t, RoleGuardian, role)

	_, err = ParseRole("admin")
	require.Error(t, err)
}

func TestRequireAny(t *testing.T) {
	ops := NewContext("ops", RoleOracleManager)
	guard := NewContext("guard", RoleGuardian)
	both := NewContext("root", RoleOracleManager, RoleGuardian)

	require.NoError(t, RequireAny(ops, RoleOracleManager))
	require.NoError(t, RequireAny(both, RoleGuardian))
	require.NoError(t, RequireAny(guard, RoleOracleManager, RoleGuardian))

	err := RequireAny(ops, RoleGuardian)
	var authErr *UnauthorizedError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, "ops", authErr.Actor)
	require.Contains(t, err.Error(), "GUARDIAN")
}

func TestZeroContextHasNoGrants(t *testing.T) {
	var c Context
	require.False(t, c.Has(RoleOracleManager))
	require.Error(t, RequireAny(c, RoleOracleManager, RoleGuardian))
}
