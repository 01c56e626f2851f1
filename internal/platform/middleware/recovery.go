package middleware

import (
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hospital/booking/internal/platform/auth"
)

// apiError writes the {code,message} body every booking endpoint uses.
func apiError(c echo.Context, status int, code, message string) error {
	return c.JSON(status, map[string]string{"code": code, "message": message})
}

// Recovery turns a handler panic into a 500 internal_error. The panic value,
// route and stack are logged; none of it reaches the client. If the handler
// already started writing, the response is left as is.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if rerr, ok := r.(error); ok && errors.Is(rerr, http.ErrAbortHandler) {
					panic(r)
				}

				rid, _ := c.Get("request_id").(string)
				evt := logger.Error().
					Str("request_id", rid).
					Str("method", c.Request().Method).
					Str("route", c.Path()).
					Interface("panic", r).
					Bytes("stack", debug.Stack())
				if actor, ok := auth.ActorFromContext(c.Request().Context()); ok {
					evt = evt.Str("role", actor.Role).Int64("actor_id", actor.ID)
				}
				evt.Msg("handler panicked")

				if c.Response().Committed {
					err = nil
					return
				}
				err = apiError(c, http.StatusInternalServerError, "internal_error", "internal server error")
			}()
			return next(c)
		}
	}
}
