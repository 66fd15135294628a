package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// APIKeyAuth is middleware that validates requests against a backend API key.
// It checks the X-API-Key header first, then falls back to Authorization:
// Bearer <key>. WebSocket clients that cannot set headers may pass the key as
// an api_key query parameter.
func APIKeyAuth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")

			if key == "" {
				authHeader := r.Header.Get("Authorization")
				if strings.HasPrefix(authHeader, "Bearer ") {
					key = strings.TrimPrefix(authHeader, "Bearer ")
				}
			}

			if key == "" {
				key = r.URL.Query().Get("api_key")
			}

			if key == "" {
				respondJSON(w, http.StatusUnauthorized, map[string]string{
					"error": "Missing API key. Provide X-API-Key header or Authorization: Bearer <key>",
				})
				return
			}

			// Constant-time comparison to prevent timing attacks
			if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) != 1 {
				respondJSON(w, http.StatusForbidden, map[string]string{
					"error": "Invalid API key",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
