package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ipc/ipc/internal/platform/auth"
)

const apiPrefix = "/api/v1/"

// AccessEntry records one access to surveillance data.
type AccessEntry struct {
	RequestID  string
	Tenant     string
	UserID     string
	UserRoles  []string
	Resource   string
	ResourceID string
	Action     string
	Method     string
	Path       string
	IPAddress  string
	StatusCode int
	Timestamp  time.Time
}

// AccessRecorder persists access entries in addition to the log line.
type AccessRecorder interface {
	RecordAccess(entry AccessEntry) error
}

// AccessRecorderFunc is a function adapter for AccessRecorder.
type AccessRecorderFunc func(entry AccessEntry) error

func (f AccessRecorderFunc) RecordAccess(entry AccessEntry) error {
	return f(entry)
}

// Audit logs every /api/v1/ request as an ipc_access event after the handler
// has run, and hands the entry to recorder when one is given.
func Audit(logger zerolog.Logger, recorder AccessRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !strings.HasPrefix(req.URL.Path, apiPrefix) {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			entry := AccessEntry{
				Timestamp:  time.Now().UTC(),
				Method:     req.Method,
				Path:       req.URL.Path,
				IPAddress:  c.RealIP(),
				StatusCode: status,
				UserID:     auth.UserIDFromContext(req.Context()),
				UserRoles:  auth.RolesFromContext(req.Context()),
			}
			entry.RequestID, _ = c.Get("request_id").(string)
			entry.Tenant, _ = c.Get("tenant_id").(string)
			entry.Resource, entry.ResourceID, entry.Action = classifyPath(req.Method, req.URL.Path)

			if recorder != nil {
				if recErr := recorder.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).Str("request_id", entry.RequestID).Msg("failed to record access")
				}
			}

			logger.Info().
				Str("type", "ipc_access").
				Str("request_id", entry.RequestID).
				Str("tenant", entry.Tenant).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("resource", entry.Resource).
				Str("resource_id", entry.ResourceID).
				Str("action", entry.Action).
				Int("status", entry.StatusCode).
				Msg("access")

			return err
		}
	}
}

// classifyPath splits /api/v1/<resource>[/<id>][/<verb>] into the resource
// path before the first UUID segment, that id, and an action. On a POST the
// trailing segment after an id (validate, reject, transition) is the action.
func classifyPath(method, path string) (resource, id, action string) {
	action = methodAction(method)
	var parts []string
	segments := strings.Split(strings.Trim(strings.TrimPrefix(path, apiPrefix), "/"), "/")
	for i, s := range segments {
		if _, err := uuid.Parse(s); err == nil {
			id = s
			if rest := segments[i+1:]; len(rest) > 0 && method == http.MethodPost {
				action = rest[len(rest)-1]
			}
			break
		}
		if s != "" {
			parts = append(parts, s)
		}
	}
	resource = strings.Join(parts, "/")
	if resource == "" {
		resource = "unknown"
	}
	return resource, id, action
}

func methodAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}
