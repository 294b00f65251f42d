package core

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"eventdigest/internal/types"
)

// RateLimitByIP limits each client IP to limit requests per window using
// store. A nil store or a non-positive limit disables the middleware.
//
// Store failures fail open: an unavailable Redis must not block subscriptions.
//
// Every checked response carries X-RateLimit-Limit, X-RateLimit-Remaining and
// X-RateLimit-Reset; rejected ones add Retry-After.
func RateLimitByIP(store RateLimitStore, scope string, limit int, window time.Duration, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		if store == nil || limit <= 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := extractClientIP(r)
			result, err := store.IncrementAndCheck(r.Context(), scope+":"+ip, limit, window)
			if err != nil {
				logger.ErrorContext(r.Context(), "rate limit store error",
					slog.String("scope", scope),
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}

			setRateLimitHeaders(w, limit, result)

			if !result.Allowed {
				logger.WarnContext(r.Context(), "rate limit exceeded",
					slog.String("scope", scope),
					slog.String("ip", ip),
				)

				retryAfter := int(time.Until(result.ResetAt).Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

				Error(w, r, types.NewAppError(types.ErrCodeRateLimitExceeded, "Demasiados intentos. Vuelve a intentarlo más tarde.", nil))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// setRateLimitHeaders writes the standard X-RateLimit-* headers.
func setRateLimitHeaders(w http.ResponseWriter, limit int, result RateLimitResult) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

// extractClientIP returns the right-most X-Forwarded-For entry, the address
// the hosting proxy itself saw, falling back to RemoteAddr without port.
// Entries to its left are supplied by the client and cannot be trusted as
// a rate limit key.
func extractClientIP(r *http.Request) string {
	if values := r.Header.Values("X-Forwarded-For"); len(values) > 0 {
		last := values[len(values)-1]
		if i := strings.LastIndexByte(last, ','); i >= 0 {
			last = last[i+1:]
		}
		if ip := strings.TrimSpace(last); ip != "" {
			return ip
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
