package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimit returns an HTTP middleware that limits requests per client IP
// to the specified number per minute. It guards password login.
func RateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(tooManyRequests),
	)
}

// RateLimitByBearer returns an HTTP middleware that limits requests per
// bearer token to the specified number per minute. Requests without a
// token are keyed by client IP.
func RateLimitByBearer(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			raw, ok := BearerToken(r)
			if !ok {
				return httprate.KeyByIP(r)
			}
			// Key on a digest so the limiter never holds live tokens.
			sum := sha256.Sum256([]byte(raw))
			return "bearer:" + hex.EncodeToString(sum[:]), nil
		}),
		httprate.WithLimitHandler(tooManyRequests),
	)
}

func tooManyRequests(w http.ResponseWriter, r *http.Request) {
	writeAuthError(w, http.StatusTooManyRequests, "Too many requests")
}
