package middleware

import (
	"net/http"

	"github.com/vigilops/vigil-core/internal/tokens"
)

// RequireRole gates a route on the caller's token role. Admins pass
// every gate; viewers only pass viewer gates.
func RequireRole(role tokens.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, ok := GetAuthContext(r.Context())
			if !ok {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			if ac.Role != role && ac.Role != tokens.RoleAdmin {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin guards mutating routes.
func RequireAdmin(next http.Handler) http.Handler {
	return RequireRole(tokens.RoleAdmin)(next)
}
