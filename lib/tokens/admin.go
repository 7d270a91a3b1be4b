package tokens

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// AdminTokenMiddleware guards the invoice lifecycle endpoints (cancel,
// reopen, resweep, delete) with a bearer token. An empty token leaves the
// admin group open, for local development only.
func AdminTokenMiddleware(token string) echo.MiddlewareFunc {
	if token == "" {
		return func(next echo.HandlerFunc) echo.HandlerFunc {
			return next
		}
	}
	return middleware.KeyAuth(func(auth string, c echo.Context) (bool, error) {
		return auth == token, nil
	})
}
