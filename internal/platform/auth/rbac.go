package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	RoleAdmin      = "admin"
	RoleIPCOfficer = "ipc_officer"
	RoleNurse      = "nurse"
	RolePhysician  = "physician"
	RoleViewer     = "viewer"
)

// Staff are the roles allowed to report data.
var Staff = []string{RoleIPCOfficer, RoleNurse, RolePhysician}

// Everyone is every role that may read surveillance data.
var Everyone = []string{RoleIPCOfficer, RoleNurse, RolePhysician, RoleViewer}

// HasRole reports whether the caller holds one of roles. Admin holds all.
func HasRole(ctx context.Context, roles ...string) bool {
	for _, has := range RolesFromContext(ctx) {
		if has == RoleAdmin {
			return true
		}
		for _, required := range roles {
			if has == required {
				return true
			}
		}
	}
	return false
}

// RequireRole returns middleware that checks if the user has at least one of the specified roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if HasRole(c.Request().Context(), roles...) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}
