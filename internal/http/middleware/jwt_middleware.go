package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/venuehq/backoffice/internal/http/response"
	"github.com/venuehq/backoffice/pkg/auth"
	"github.com/venuehq/backoffice/pkg/logger"
)

type ctxKey string

const CtxClaims ctxKey = "claims"

// RequireJWT admits staff sessions whose role satisfies requiredRole.
// An empty requiredRole admits any valid staff session.
func RequireJWT(secret, requiredRole string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authz := r.Header.Get("Authorization")
			if !strings.HasPrefix(authz, "Bearer ") {
				response.Unauthorized(w, "invalid authorization header")
				return
			}
			claims, err := auth.Parse(strings.TrimPrefix(authz, "Bearer "), secret)
			if err != nil {
				response.WriteError(w, http.StatusUnauthorized, "invalid authorization token", response.CodeInvalidToken)
				return
			}
			if !auth.Allows(claims.Role, requiredRole) {
				response.Forbidden(w, "insufficient permissions")
				return
			}
			ctx := context.WithValue(r.Context(), CtxClaims, claims)
			ctx = context.WithValue(ctx, logger.UserIDKey, claims.Sub)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func Claims(r *http.Request) *auth.Claims {
	v, _ := r.Context().Value(CtxClaims).(*auth.Claims)
	return v
}
