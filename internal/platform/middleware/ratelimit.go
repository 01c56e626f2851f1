package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/hospital/booking/internal/platform/auth"
)

// RateLimitConfig sizes the per-caller limiter on /api/v1.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	// IdleExpiry drops a caller's limiter after this long without requests.
	IdleExpiry time.Duration
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{RequestsPerSecond: 50, BurstSize: 100, IdleExpiry: 5 * time.Minute}
}

// RateLimit throttles each caller separately. Patients and doctors are keyed
// by their role and record id so a shared clinic NAT does not starve them;
// callers without an actor fall back to their IP. A refused request gets a
// 429 with the usual {code,message} body and a Retry-After hint.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	if cfg.RequestsPerSecond <= 0 {
		cfg = DefaultRateLimitConfig()
	}
	store := echomw.NewRateLimiterMemoryStoreWithConfig(echomw.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(cfg.RequestsPerSecond),
		Burst:     cfg.BurstSize,
		ExpiresIn: cfg.IdleExpiry,
	})
	limit := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', -1, 64)
	retryAfter := strconv.Itoa(int(math.Ceil(1 / cfg.RequestsPerSecond)))

	return echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Store: store,
		BeforeFunc: func(c echo.Context) {
			c.Response().Header().Set("X-RateLimit-Limit", limit)
		},
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return callerKey(c), nil
		},
		DenyHandler: func(c echo.Context, _ string, _ error) error {
			c.Response().Header().Set("Retry-After", retryAfter)
			return apiError(c, http.StatusTooManyRequests, "rate_limited", "too many requests, slow down")
		},
	})
}

func callerKey(c echo.Context) string {
	if actor, ok := auth.ActorFromContext(c.Request().Context()); ok {
		if actor.ID > 0 {
			return actor.Role + ":" + strconv.FormatInt(actor.ID, 10)
		}
		if actor.UserID != "" {
			return actor.Role + ":" + actor.UserID
		}
	}
	return "ip:" + c.RealIP()
}
