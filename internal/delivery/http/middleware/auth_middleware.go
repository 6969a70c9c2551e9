package middleware

import (
	"net/http"

	"storefront-fulfillment/internal/domain"
	"storefront-fulfillment/pkg/logger"
	"storefront-fulfillment/pkg/utils"
)

// AuthMiddleware puts the caller from the bearer token or accessToken cookie
// into the request context, and tags the request logger with their id.
func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := utils.ExtractClaims(r)
		if err != nil {
			utils.WriteError(w, http.StatusUnauthorized, "Unauthorized: "+err.Error())
			return
		}
		if claims.UserID == "" {
			utils.WriteError(w, http.StatusUnauthorized, "Unauthorized: token has no subject")
			return
		}

		user := &domain.User{
			ID:    claims.UserID,
			Email: claims.Email,
			Role:  claims.Role,
		}

		ctx := domain.WithActor(r.Context(), user)
		l := logger.WithUserID(*logger.WithContext(ctx), user.ID)
		ctx = logger.NewContext(ctx, &l)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
