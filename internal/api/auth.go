package api

import (
	"net/http"
	"slices"
	"strings"

	"github.com/labstack/echo/v4"

	"drive-go/internal/drive"
)

// AuthContext carries the caller identity established by the upstream
// authentication proxy.
type AuthContext struct {
	echo.Context
	Identity drive.Identity
}

// IdentityMiddleware reads the caller identity from trusted headers. Requests
// without an owner header pass through unauthenticated; handlers wrapped with
// WithRole reject them.
func IdentityMiddleware(ownerHeader, roleHeader string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			owner := strings.TrimSpace(c.Request().Header.Get(ownerHeader))
			if owner == "" {
				return next(c)
			}
			ident := drive.Identity{
				OwnerID: owner,
				Role:    strings.TrimSpace(c.Request().Header.Get(roleHeader)),
			}
			return next(&AuthContext{Context: c, Identity: ident})
		}
	}
}

// RoleGate decides whether a role may use an endpoint.
type RoleGate func(role string) bool

// AllowRoles admits exactly the listed roles.
func AllowRoles(roles ...string) RoleGate {
	allowed := slices.Clone(roles)
	return func(role string) bool {
		return slices.Contains(allowed, role)
	}
}

// WithRole requires an authenticated caller whose role passes gate.
func WithRole(gate RoleGate, next func(c *AuthContext) error) echo.HandlerFunc {
	return func(c echo.Context) error {
		cc, ok := c.(*AuthContext)
		if !ok {
			return echo.NewHTTPError(http.StatusUnauthorized)
		}
		if !gate(cc.Identity.Role) {
			return echo.NewHTTPError(http.StatusForbidden, "role not allowed")
		}
		return next(cc)
	}
}
