package rolegate

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func newGate(t *testing.T) *Gate {
	t.Helper()
	g, err := New(DefaultTable())
	require.NoError(t, err)
	return g
}

func TestDefaultRouteTotalOverAllowedRoles(t *testing.T) {
	g := newGate(t)
	seen := map[string]string{}
	for _, role := range AllowedRoles {
		assert.True(t, g.IsAllowed(role), role)
		route, err := g.DefaultRoute(role)
		require.NoError(t, err, role)
		assert.NotEmpty(t, route, role)
		if other, dup := seen[route]; dup {
			t.Fatalf("roles %s and %s share landing route %s", role, other, route)
		}
		seen[route] = role
	}
}

func TestDisallowedRolesDenied(t *testing.T) {
	g := newGate(t)
	for _, role := range []string{RoleStudent, RoleParent, RoleGuest, "", "SUPER_ADMIN", "janitor"} {
		assert.False(t, g.IsAllowed(role), role)
		_, err := g.DefaultRoute(role)
		var ade *AccessDeniedError
		require.ErrorAs(t, err, &ade, role)
		assert.Equal(t, role, ade.Role)
		assert.Equal(t, "access_denied", ade.Code())
		assert.Contains(t, err.Error(), role)
	}
}

func TestCanAccessPrivilegedRolesEverywhere(t *testing.T) {
	g := newGate(t)
	for _, route := range []string{"/", "/any/unlisted/route", "/api/roles", "/dashboard/faculty", "", "weird?x=1"} {
		assert.True(t, g.CanAccess(RoleSuperAdmin, route), route)
		assert.True(t, g.CanAccess(RoleAdministrator, route), route)
	}
}

func TestCanAccessAllowList(t *testing.T) {
	g := newGate(t)
	cases := []struct {
		role, route string
		want        bool
	}{
		{RoleFaculty, "/dashboard/faculty", true},
		{RoleFaculty, "/dashboard/hod", false},
		{RoleFaculty, "/api/students/42", true},
		{RoleFaculty, "/api/staff", false},
		{RoleHOD, "/api/staff?page=2", true},
		{RoleFaculty, "/api/roles", false},
		{RoleFaculty, "/api/studentsx", true}, // not under /api/students
		{RoleFaculty, "/api/profile/avatar", true},
		{RoleDigitalCoordinator, "/api/institutions", true},
		{RoleStudent, "/api/students", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, g.CanAccess(tc.role, tc.route), "%s %s", tc.role, tc.route)
	}
}

func TestMostSpecificEntryWins(t *testing.T) {
	tbl := DefaultTable()
	tbl.Permissions["/api/students/reports"] = []string{RolePrincipal}
	g, err := New(tbl)
	require.NoError(t, err)
	assert.True(t, g.CanAccess(RoleFaculty, "/api/students/7"))
	assert.False(t, g.CanAccess(RoleFaculty, "/api/students/reports/2026"))
	assert.True(t, g.CanAccess(RolePrincipal, "/api/students/reports"))
}

func TestValidateRejectsIncompleteTable(t *testing.T) {
	tbl := DefaultTable()
	delete(tbl.DefaultRoutes, RoleHOD)
	_, err := New(tbl)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hod")

	tbl = DefaultTable()
	tbl.DefaultRoutes[RoleStudent] = "/dashboard/student"
	assert.Error(t, tbl.Validate())

	tbl = DefaultTable()
	tbl.DefaultRoutes[RolePrincipal] = ""
	assert.Error(t, tbl.Validate())
}

func TestReplaceKeepsPreviousOnError(t *testing.T) {
	g := newGate(t)
	bad := DefaultTable()
	bad.Permissions["/api/staff"] = []string{"student"}
	require.Error(t, g.Replace(bad))
	assert.True(t, g.CanAccess(RoleHOD, "/api/staff"))
}

func writeTable(t *testing.T, path string, tbl Table) {
	t.Helper()
	raw, err := yaml.Marshal(tbl)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644))
}

func TestWatchReloadsTable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roles.yaml")
	writeTable(t, path, DefaultTable())

	g := newGate(t)
	require.NoError(t, g.Reload(path))
	require.False(t, g.CanAccess(RoleFaculty, "/api/staff"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Watch(ctx, path, nil) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	// let the watcher register before writing
	time.Sleep(100 * time.Millisecond)

	updated := DefaultTable()
	updated.Permissions["/api/staff"] = []string{RoleHOD, RolePrincipal, RoleFaculty}
	writeTable(t, path, updated)

	require.Eventually(t, func() bool {
		return g.CanAccess(RoleFaculty, "/api/staff")
	}, 3*time.Second, 50*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("default_routes: {}\n"), 0o644))
	time.Sleep(700 * time.Millisecond)
	assert.True(t, g.CanAccess(RoleFaculty, "/api/staff"), "invalid file must not replace the table")
}
