package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"popndrop/pkg/utils"

	"go.uber.org/zap"
)

// BearerToken guards internal endpoints (scheduler trigger, admin
// console) with a shared secret. The secret is either a plain token or a
// bcrypt hash of it. With neither configured every request is refused.
func BearerToken(token, tokenHash string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" && tokenHash == "" {
				logger.Warn("Bearer token not configured, refusing request", zap.String("path", r.URL.Path))
				utils.ResponseServiceUnavailable(w, "Endpoint disabled: no access token configured", nil)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Warn("Missing bearer token", zap.String("path", r.URL.Path))
				utils.ResponseUnauthorized(w, "Missing authorization token")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
				utils.ResponseUnauthorized(w, "Invalid token format. Use: Bearer <token>")
				return
			}

			if !tokenMatches(parts[1], token, tokenHash) {
				logger.Warn("Invalid bearer token",
					zap.String("path", r.URL.Path),
					zap.String("ip", r.RemoteAddr))
				utils.ResponseForbidden(w, "Invalid token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func tokenMatches(given, token, tokenHash string) bool {
	if tokenHash != "" {
		return utils.CheckTokenHash(given, tokenHash)
	}
	return subtle.ConstantTimeCompare([]byte(given), []byte(token)) == 1
}
