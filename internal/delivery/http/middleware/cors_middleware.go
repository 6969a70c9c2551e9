package middleware

import (
	"net/http"
	"strings"

	"storefront-fulfillment/config"
	"storefront-fulfillment/pkg/utils"
)

const (
	corsAllowMethods  = "GET, POST, DELETE, OPTIONS, PATCH"
	corsAllowHeaders  = "Content-Type, Authorization, X-Request-ID"
	corsExposeHeaders = "X-Request-ID, Retry-After"
)

// NewCORSMiddleware allows the comma separated origins of ALLOWED_ORIGIN.
// Credentials are always allowed, so a "*" entry echoes the caller's origin
// instead of sending the literal wildcard.
func NewCORSMiddleware(cfg *config.Config) func(http.Handler) http.Handler {
	allowAny := false
	allowed := make(map[string]struct{})
	for _, o := range utils.SplitCSV(cfg.AllowedOrigin) {
		if o == "*" {
			allowAny = true
			continue
		}
		allowed[strings.ToLower(o)] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Add("Vary", "Origin")

			origin := r.Header.Get("Origin")
			if origin != "" {
				_, ok := allowed[strings.ToLower(origin)]
				if ok || allowAny {
					h.Set("Access-Control-Allow-Origin", origin)
					h.Set("Access-Control-Allow-Credentials", "true")
					h.Set("Access-Control-Expose-Headers", corsExposeHeaders)
				}
			}

			if r.Method == http.MethodOptions {
				h.Set("Access-Control-Allow-Methods", corsAllowMethods)
				h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
				h.Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
