// ABOUTME: HTTP middleware for JWT authentication on admin API endpoints
// ABOUTME: Extracts the bearer token, verifies it, and adds the caller identity to context

package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// RequireAdmin returns middleware that admits only requests bearing a valid
// admin token. A nil verifier admits everyone as an anonymous identity.
func RequireAdmin(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if verifier == nil {
				next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), &Identity{Anonymous: true})))
				return
			}

			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				writeError(w, http.StatusUnauthorized, errMsg)
				return
			}

			claims, err := verifier.Verify(token)
			switch {
			case errors.Is(err, ErrExpiredToken):
				writeError(w, http.StatusUnauthorized, "token expired")
				return
			case errors.Is(err, ErrWrongScope):
				writeError(w, http.StatusForbidden, "admin scope required")
				return
			case err != nil:
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			id := &Identity{Subject: claims.Subject}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="scanbot"`)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
