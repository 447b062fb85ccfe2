package httputil

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/trialstock/trialstock-backend/pkg/actor"
	"github.com/trialstock/trialstock-backend/pkg/config"
	"github.com/trialstock/trialstock-backend/pkg/errors"
	"github.com/trialstock/trialstock-backend/pkg/permissions"
)

// Claims represents the JWT claims issued by the external auth service.
// The ledger only verifies tokens, it never issues them.
type Claims struct {
	jwt.RegisteredClaims
	UserID      string   `json:"user_id"`
	Name        string   `json:"name"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions,omitempty"`
}

// Auth verifies the Bearer token and attaches the caller as an Actor to the
// request context. Requests without a valid token are rejected.
func Auth(cfg *config.JWTConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" || !strings.HasPrefix(header, "Bearer ") {
				Error(w, errors.Unauthorized("missing bearer token"))
				return
			}

			tokenString := strings.TrimPrefix(header, "Bearer ")

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, errors.TokenInvalid()
				}
				return []byte(cfg.Secret), nil
			}, jwt.WithIssuer(cfg.Issuer))

			if err != nil {
				if errors.Is(err, jwt.ErrTokenExpired) {
					Error(w, errors.TokenExpired())
					return
				}
				Error(w, errors.TokenInvalid())
				return
			}

			if !token.Valid {
				Error(w, errors.TokenInvalid())
				return
			}

			userID := claims.UserID
			if userID == "" {
				userID = claims.Subject
			}

			a := &actor.Actor{
				ID:          userID,
				Name:        claims.Name,
				Role:        claims.Role,
				Permissions: claims.Permissions,
			}

			next.ServeHTTP(w, r.WithContext(actor.WithActor(r.Context(), a)))
		})
	}
}

// RequirePermission rejects requests whose actor lacks the given capability.
// Must be mounted after Auth.
func RequirePermission(required string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			a := actor.FromContext(r.Context())
			if a == nil {
				Error(w, errors.Unauthorized("authentication required"))
				return
			}

			if !permissions.HasPermission(a.Permissions, required) {
				Error(w, errors.Forbidden("missing permission: "+required))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
