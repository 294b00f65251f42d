package core

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"eventdigest/internal/types"
)

// unauthorizedMessage is the body message existing cron callers expect.
const unauthorizedMessage = "Unauthorized"

// RequireTriggerSecret guards the digest trigger endpoints. When secret is
// unset every request passes; otherwise the request must carry
// "Authorization: Bearer <secret>" or it is rejected with 401 before any work
// is done. The comparison runs in constant time.
func RequireTriggerSecret(secret types.SecretString, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	want := []byte(secret.Unmask())

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !secret.IsSet() {
				next.ServeHTTP(w, r)
				return
			}

			token := extractBearerToken(r.Header.Get("Authorization"))
			if subtle.ConstantTimeCompare([]byte(token), want) != 1 {
				logger.WarnContext(r.Context(), "trigger rejected",
					slog.String("path", r.URL.Path),
					slog.Bool("credential_present", token != ""),
				)
				Error(w, r, types.NewAppError(types.ErrCodeAuthTriggerInvalid, unauthorizedMessage, nil))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractBearerToken returns the token of a "Bearer <token>" header value
// (scheme is case-insensitive per RFC 7235), or "" when the format is invalid.
func extractBearerToken(authHeader string) string {
	const prefix = "Bearer "
	if len(authHeader) < len(prefix) {
		return ""
	}
	if !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(authHeader[len(prefix):])
}
