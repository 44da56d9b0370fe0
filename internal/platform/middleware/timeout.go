package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestTimeout returns middleware that sets a context deadline on
// each request and answers 504 when the handler does not finish in
// time.
//
// Export routes are excluded: the snapshot builder enforces its own
// wall-clock budget and reports export_timeout itself.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if strings.HasSuffix(c.Request().URL.Path, "/export") {
				return next(c)
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()

			c.SetRequest(c.Request().WithContext(ctx))

			done := make(chan error, 1)
			go func() {
				done <- next(c)
			}()

			select {
			case err := <-done:
				return err
			case <-ctx.Done():
				if ctx.Err() == context.DeadlineExceeded {
					return c.JSON(http.StatusGatewayTimeout, map[string]string{
						"code":    "request_timeout",
						"message": "request exceeded the server time limit",
					})
				}
				return ctx.Err()
			}
		}
	}
}
