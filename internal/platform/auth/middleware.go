package auth

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	UserIDKey contextKey = "user_id"
	ActorKey  contextKey = "actor"
)

const (
	RoleAdmin   = "admin"
	RoleDoctor  = "doctor"
	RolePatient = "patient"
)

// Actor is the authenticated caller. ID is the patient or doctor id the
// caller acts as; it is zero for admins.
type Actor struct {
	UserID string `json:"user_id"`
	ID     int64  `json:"id"`
	Role   string `json:"role"`
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// Is reports whether the actor holds role with the given domain id.
func (a Actor) Is(role string, id int64) bool {
	return a.Role == role && a.ID == id
}

type Claims struct {
	jwt.RegisteredClaims
	Role    string `json:"role"`
	ActorID int64  `json:"actor_id"`
}

type JWTConfig struct {
	Issuer     string
	Audience   string
	SigningKey []byte
	Skipper    func(c echo.Context) bool
}

func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}
			actor, err := parseBearer(cfg, authHeader)
			if err != nil {
				return err
			}

			c.SetRequest(c.Request().WithContext(WithActor(c.Request().Context(), actor)))
			return next(c)
		}
	}
}

func parseBearer(cfg JWTConfig, authHeader string) (Actor, error) {
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (interface{}, error) {
		return cfg.SigningKey, nil
	}, opts...)
	if err != nil || !token.Valid {
		return Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}

	switch claims.Role {
	case RoleAdmin, RoleDoctor, RolePatient:
	default:
		return Actor{}, echo.NewHTTPError(http.StatusForbidden, "token carries no known role")
	}
	return Actor{UserID: claims.Subject, ID: claims.ActorID, Role: claims.Role}, nil
}

// DevAuthMiddleware is a permissive middleware for development. Requests
// without a bearer token act as admin unless X-Dev-Role and X-Dev-Actor
// select another identity. Tokens that are present are still validated when
// a signing key is configured.
func DevAuthMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if h := req.Header.Get("Authorization"); h != "" && len(cfg.SigningKey) > 0 {
				actor, err := parseBearer(cfg, h)
				if err != nil {
					return err
				}
				c.SetRequest(req.WithContext(WithActor(req.Context(), actor)))
				return next(c)
			}

			actor := Actor{UserID: "dev-user", Role: RoleAdmin}
			if role := req.Header.Get("X-Dev-Role"); role != "" {
				actor.Role = role
			}
			if id := req.Header.Get("X-Dev-Actor"); id != "" {
				n, err := strconv.ParseInt(id, 10, 64)
				if err != nil {
					return echo.NewHTTPError(http.StatusBadRequest, "X-Dev-Actor must be an integer")
				}
				actor.ID = n
			}
			c.SetRequest(req.WithContext(WithActor(req.Context(), actor)))
			return next(c)
		}
	}
}

func WithActor(ctx context.Context, a Actor) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, a.UserID)
	return context.WithValue(ctx, ActorKey, a)
}

func ActorFromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(ActorKey).(Actor)
	return a, ok
}

func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}
