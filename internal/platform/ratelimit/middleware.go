// internal/platform/ratelimit/middleware.go
package ratelimit

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	apperrors "lendingledger/internal/errors"
	"lendingledger/internal/platform/httpx"
)

type KeyFunc func(r *http.Request) string

// DefaultKeyFunc keys on keyHeader when present, then the first X-Forwarded-For hop when
// trusted, then the remote host.
func DefaultKeyFunc(keyHeader string, trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return v
			}
		}

		if trustXFF {
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
					return ip
				}
			}
		}

		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}

// Middleware rejects callers over their budget with 429 RATE_LIMITED.
func Middleware(store *Store, keyFn KeyFunc) func(http.Handler) http.Handler {
	if keyFn == nil {
		keyFn = DefaultKeyFunc("", false)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, wait := store.Reserve(keyFn(r))
			if !allowed {
				secs := int(math.Ceil(wait.Seconds()))
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				httpx.WriteJSON(w, apperrors.CodeRateLimited.HTTPStatus(), httpx.ErrorResponse{
					Code:    apperrors.CodeRateLimited,
					Message: "too many requests",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
