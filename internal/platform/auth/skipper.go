package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths lists URL paths that never need a session: infrastructure
// endpoints, the sign-in flow, and the batch job triggers, which carry their
// own shared secret.
var publicPaths = map[string]bool{
	"/health":                     true,
	"/health/db":                  true,
	"/metrics":                    true,
	"/api/auth/otp/request":       true,
	"/api/auth/otp/verify":        true,
	"/api/jobs/generate-tasks":    true,
	"/api/jobs/refresh-summaries": true,
	"/api/jobs/refresh-dashboard": true,
}

// AuthSkipper returns true for requests whose route should skip session
// resolution.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}

// IsPublicPath reports whether the given path bypasses session resolution.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}
