// Package rolegate decides which roles may use the application, where each role lands
// after login, and which routes a role may open.
package rolegate

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
)

const (
	RoleFaculty            = "faculty"
	RoleHOD                = "hod"
	RolePrincipal          = "principal"
	RoleAdministrator      = "administrator"
	RoleDigitalCoordinator = "digital_coordinator"
	RoleSuperAdmin         = "super_admin"

	// Known to the identity provider but never let in.
	RoleStudent = "student"
	RoleParent  = "parent"
	RoleGuest   = "guest"
)

// AllowedRoles is the fixed set of roles admitted into the application.
var AllowedRoles = []string{
	RoleFaculty,
	RoleHOD,
	RolePrincipal,
	RoleAdministrator,
	RoleDigitalCoordinator,
	RoleSuperAdmin,
}

var allowedSet = func() map[string]bool {
	m := make(map[string]bool, len(AllowedRoles))
	for _, r := range AllowedRoles {
		m[r] = true
	}
	return m
}()

// AccessDeniedError is returned for roles outside the allowed set.
type AccessDeniedError struct {
	Role string
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("access_denied: role %q is not allowed", e.Role)
}

// Code is the structured error code surfaced to callers.
func (e *AccessDeniedError) Code() string { return "access_denied" }

// IsAccessDenied reports whether err carries an AccessDeniedError.
func IsAccessDenied(err error) bool {
	var ade *AccessDeniedError
	return errors.As(err, &ade)
}

// Gate holds the routing table. It is safe for concurrent use and can be swapped at runtime.
type Gate struct {
	mu    sync.RWMutex
	table Table
	// keys of table.Permissions sorted longest first
	prefixes []string
}

// New returns a gate over t after validating it.
func New(t Table) (*Gate, error) {
	g := &Gate{}
	if err := g.Replace(t); err != nil {
		return nil, err
	}
	return g, nil
}

// Replace validates t and installs it. On error the previous table stays active.
func (g *Gate) Replace(t Table) error {
	if err := t.Validate(); err != nil {
		return err
	}
	t = t.normalized()
	prefixes := make([]string, 0, len(t.Permissions))
	for k := range t.Permissions {
		prefixes = append(prefixes, k)
	}
	sort.Slice(prefixes, func(i, j int) bool {
		if len(prefixes[i]) != len(prefixes[j]) {
			return len(prefixes[i]) > len(prefixes[j])
		}
		return prefixes[i] < prefixes[j]
	})

	g.mu.Lock()
	g.table = t
	g.prefixes = prefixes
	g.mu.Unlock()
	return nil
}

// Table returns a copy of the active table.
func (g *Gate) Table() Table {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.table.clone()
}

// IsAllowed reports whether role may use the application at all. Unknown and empty roles are denied.
func (g *Gate) IsAllowed(role string) bool {
	return allowedSet[role]
}

// DefaultRoute returns the landing route for role or an AccessDeniedError.
func (g *Gate) DefaultRoute(role string) (string, error) {
	if !g.IsAllowed(role) {
		return "", &AccessDeniedError{Role: role}
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	route, ok := g.table.DefaultRoutes[role]
	if !ok {
		// unreachable after Validate
		return "", &AccessDeniedError{Role: role}
	}
	return route, nil
}

// CanAccess reports whether role may open route. super_admin and administrator pass everywhere.
// Other roles are checked against the most specific permission entry covering route;
// a route with no entry is public.
func (g *Gate) CanAccess(role, route string) bool {
	if role == RoleSuperAdmin || role == RoleAdministrator {
		return true
	}
	route = cleanRoute(route)

	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, prefix := range g.prefixes {
		if !covers(prefix, route) {
			continue
		}
		for _, r := range g.table.Permissions[prefix] {
			if r == role {
				return true
			}
		}
		return false
	}
	return true
}

func covers(prefix, route string) bool {
	if prefix == "/" {
		return true
	}
	return route == prefix || strings.HasPrefix(route, prefix+"/")
}

func cleanRoute(route string) string {
	if route == "" {
		return "/"
	}
	if i := strings.IndexAny(route, "?#"); i >= 0 {
		route = route[:i]
	}
	if !strings.HasPrefix(route, "/") {
		route = "/" + route
	}
	return path.Clean(route)
}
