// Package auth extracts the acting principal from request credentials.
// Authorization policy (RBAC role tables, ABAC) lives upstream; the core
// only needs to know who acts, in which role, for which hospital.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

const actorKey contextKey = "actor"

// Actor is the authenticated principal performing an operation.
type Actor struct {
	ID       string `json:"id"`
	Role     string `json:"role"`
	Hospital string `json:"hospital,omitempty"`
}

// Claims is the JWT payload the platform issues.
type Claims struct {
	Role     string `json:"role"`
	Hospital string `json:"hospital,omitempty"`
	TenantID string `json:"tenant_id,omitempty"`
	jwt.RegisteredClaims
}

// JWTConfig configures token verification.
type JWTConfig struct {
	Secret string
	Issuer string
}

// JWTMiddleware verifies a bearer token and stores the Actor on the request
// context.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}
			raw := strings.TrimPrefix(header, "Bearer ")

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
				}
				return []byte(cfg.Secret), nil
			})
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			if cfg.Issuer != "" {
				if iss, _ := claims.GetIssuer(); iss != cfg.Issuer {
					return echo.NewHTTPError(http.StatusUnauthorized, "invalid token issuer")
				}
			}

			actor := Actor{ID: claims.Subject, Role: claims.Role, Hospital: claims.Hospital}
			if claims.TenantID != "" {
				c.Set("jwt_tenant_id", claims.TenantID)
			}
			ctx := context.WithValue(c.Request().Context(), actorKey, actor)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// DevAuthMiddleware grants an admin actor to unauthenticated requests.
// Development only.
func DevAuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actor := Actor{ID: "dev-user", Role: "admin"}
			if h := c.Request().Header.Get("X-Actor-ID"); h != "" {
				actor.ID = h
			}
			if h := c.Request().Header.Get("X-Actor-Role"); h != "" {
				actor.Role = h
			}
			if h := c.Request().Header.Get("X-Actor-Hospital"); h != "" {
				actor.Hospital = h
			}
			ctx := context.WithValue(c.Request().Context(), actorKey, actor)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// ActorFromContext returns the acting principal, or the zero Actor.
func ActorFromContext(ctx context.Context) Actor {
	actor, _ := ctx.Value(actorKey).(Actor)
	return actor
}

// RequireRole allows the request through when the actor holds one of the
// given roles. Admins always pass.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actor := ActorFromContext(c.Request().Context())
			if actor.Role == "admin" {
				return next(c)
			}
			for _, r := range roles {
				if actor.Role == r {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}
