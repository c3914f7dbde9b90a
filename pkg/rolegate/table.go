package rolegate

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Table is the role routing configuration.
type Table struct {
	// DefaultRoutes maps every allowed role to exactly one landing route.
	DefaultRoutes map[string]string `yaml:"default_routes" json:"default_routes"`
	// Permissions maps a route prefix to the roles allowed under it.
	Permissions map[string][]string `yaml:"permissions" json:"permissions"`
}

// DefaultTable is the built-in routing table.
func DefaultTable() Table {
	return Table{
		DefaultRoutes: map[string]string{
			RoleFaculty:            "/dashboard/faculty",
			RoleHOD:                "/dashboard/hod",
			RolePrincipal:          "/dashboard/principal",
			RoleAdministrator:      "/dashboard/admin",
			RoleDigitalCoordinator: "/dashboard/coordinator",
			RoleSuperAdmin:         "/dashboard/super-admin",
		},
		Permissions: map[string][]string{
			"/dashboard/faculty":       {RoleFaculty},
			"/dashboard/hod":           {RoleHOD},
			"/dashboard/principal":     {RolePrincipal},
			"/dashboard/coordinator":   {RoleDigitalCoordinator},
			"/dashboard/admin":         {},
			"/dashboard/super-admin":   {},
			"/api/mentors":             {RoleHOD, RolePrincipal, RoleDigitalCoordinator},
			"/api/students":            {RoleFaculty, RoleHOD, RolePrincipal, RoleDigitalCoordinator},
			"/api/staff":               {RoleHOD, RolePrincipal},
			"/api/institutions":        {RolePrincipal, RoleDigitalCoordinator},
			"/api/counseling-sessions": {RoleFaculty, RoleHOD, RolePrincipal},
			"/api/roles":               {},
		},
	}
}

// Validate checks that the default-route table is total over AllowedRoles with one
// non-empty path each, and that no route or permission names an unknown role.
func (t Table) Validate() error {
	var errs []error
	for _, role := range AllowedRoles {
		route, ok := t.DefaultRoutes[role]
		if !ok {
			errs = append(errs, fmt.Errorf("role %q has no default route", role))
			continue
		}
		if strings.TrimSpace(route) == "" || !strings.HasPrefix(route, "/") {
			errs = append(errs, fmt.Errorf("role %q has invalid default route %q", role, route))
		}
	}
	for role := range t.DefaultRoutes {
		if !allowedSet[role] {
			errs = append(errs, fmt.Errorf("default route given for disallowed role %q", role))
		}
	}
	for prefix, roles := range t.Permissions {
		if !strings.HasPrefix(prefix, "/") {
			errs = append(errs, fmt.Errorf("permission route %q must start with /", prefix))
		}
		for _, r := range roles {
			if !allowedSet[r] {
				errs = append(errs, fmt.Errorf("permission %q names disallowed role %q", prefix, r))
			}
		}
	}
	return errors.Join(errs...)
}

// LoadTable reads a YAML routing table from path.
func LoadTable(path string) (Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("read role table: %w", err)
	}
	var t Table
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return Table{}, fmt.Errorf("parse role table %s: %w", path, err)
	}
	if err := t.Validate(); err != nil {
		return Table{}, fmt.Errorf("invalid role table %s: %w", path, err)
	}
	return t, nil
}

func (t Table) normalized() Table {
	out := Table{
		DefaultRoutes: make(map[string]string, len(t.DefaultRoutes)),
		Permissions:   make(map[string][]string, len(t.Permissions)),
	}
	for k, v := range t.DefaultRoutes {
		out.DefaultRoutes[k] = v
	}
	for k, v := range t.Permissions {
		out.Permissions[cleanRoute(k)] = append([]string(nil), v...)
	}
	return out
}

func (t Table) clone() Table {
	return t.normalized()
}
