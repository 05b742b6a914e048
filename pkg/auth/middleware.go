package auth

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Middleware returns a chi-compatible middleware enforcing bearer-token
// authentication. When the validator has no secret configured the
// middleware is a no-op passthrough.
func Middleware(validator *JWTValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !validator.IsConfigured() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			tokenString, found := strings.CutPrefix(header, "Bearer ")
			if !found || tokenString == "" {
				unauthorized(w, "missing bearer token")
				return
			}
			claims, err := validator.ValidateToken(tokenString)
			if err != nil {
				unauthorized(w, "invalid token")
				return
			}
			if sub, ok := claims["sub"].(string); ok {
				r = r.WithContext(WithSubject(r.Context(), sub))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
