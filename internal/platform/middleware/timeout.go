package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestTimeout bounds every API request. Booking and slot handlers pass
// the request context to pgx and Redis, so when the deadline passes the
// running statement is cancelled and an open booking transaction rolls back
// with nothing reserved. The caller then gets a 504 unless the handler had
// already written a response.
func RequestTimeout(limit time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx, cancel := context.WithTimeout(req.Context(), limit)
			defer cancel()
			c.SetRequest(req.WithContext(ctx))

			err := next(c)
			if c.Response().Committed || !errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return err
			}
			return apiError(c, http.StatusGatewayTimeout, "timeout", "the request took too long and was cancelled")
		}
	}
}
