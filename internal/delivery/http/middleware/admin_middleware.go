package middleware

import (
	"net/http"

	"storefront-fulfillment/internal/domain"
	"storefront-fulfillment/pkg/logger"
	"storefront-fulfillment/pkg/utils"
)

// AdminMiddleware admits only admins. MUST be used AFTER AuthMiddleware.
func AdminMiddleware(next http.Handler) http.Handler {
	return RequireRole(domain.RoleAdmin)(next)
}

// RequireRole admits callers holding one of roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := domain.UserFromContext(r.Context())
			if !ok {
				utils.WriteError(w, http.StatusUnauthorized, "Unauthorized: No user found in context")
				return
			}
			for _, role := range roles {
				if user.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			logger.WithContext(r.Context()).Warn().Str("role", user.Role).Str("path", r.URL.Path).Msg("Role denied")
			utils.WriteError(w, http.StatusForbidden, "Forbidden: insufficient role")
		})
	}
}
