package middleware

import (
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/radreport/radreport/internal/platform/auth"
)

// AccessAudit returns middleware that writes a structured audit entry
// for every request touching report data. Audit entries are emitted
// to the given logger regardless of response status so that denied
// and failed accesses are recorded too.
func AccessAudit(log zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			resource, resourceID := auditResource(c.Request().URL.Path)
			if resource == "" {
				return next(c)
			}

			start := time.Now()
			err := next(c)

			entry := log.Info().
				Str("event", "access_audit").
				Str("user_id", auth.UserIDFromContext(c.Request().Context())).
				Str("method", c.Request().Method).
				Str("resource", resource).
				Str("action", auditAction(c.Request().Method, c.Request().URL.Path)).
				Int("status", c.Response().Status).
				Str("remote_ip", c.RealIP()).
				Dur("duration", time.Since(start))
			if resourceID != "" {
				entry = entry.Str("resource_id", resourceID)
			}
			if rid, ok := c.Get("request_id").(string); ok {
				entry = entry.Str("request_id", rid)
			}
			entry.Msg("resource access")

			return err
		}
	}
}

// auditResource extracts the audited resource type and identifier
// from the request path. Only report and template paths are audited.
func auditResource(path string) (resource, id string) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i, p := range parts {
		if p != "reports" && p != "templates" && p != "shared" {
			continue
		}
		resource = strings.TrimSuffix(p, "s")
		if p == "shared" {
			resource = "shared-report"
		}
		if i+1 < len(parts) {
			id = parts[i+1]
		}
		return resource, id
	}
	return "", ""
}

func auditAction(method, path string) string {
	switch {
	case strings.HasSuffix(path, "/finalize"):
		return "finalize"
	case strings.HasSuffix(path, "/sign"):
		return "sign"
	case strings.HasSuffix(path, "/addenda"):
		return "addendum"
	case strings.HasSuffix(path, "/critical-communications"):
		return "critical-communication"
	case strings.HasSuffix(path, "/export"):
		return "export"
	case strings.HasSuffix(path, "/share-links"):
		return "share"
	case strings.HasSuffix(path, "/template"):
		return "rebind-template"
	}
	switch method {
	case "GET":
		return "read"
	case "POST":
		return "create"
	case "PATCH", "PUT":
		return "update"
	case "DELETE":
		return "delete"
	}
	return strings.ToLower(method)
}
