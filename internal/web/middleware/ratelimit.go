package middleware

import (
	"encoding/json"
	"net"
	"net/http"

	"github.com/znz-systems/solebook/internal/auth"
	"github.com/znz-systems/solebook/internal/ratelimit"
)

// RateLimit limits requests per caller. Authenticated requests are keyed by
// user, everything else by client IP. Over-limit requests get 429.
func RateLimit(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(rateKey(r)) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]string{
					"error": "rate limit exceeded",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func rateKey(r *http.Request) string {
	if id, ok := auth.IdentityFrom(r.Context()); ok {
		return id.String()
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// If RemoteAddr has no port, use it as-is.
		ip = r.RemoteAddr
	}
	return "ip:" + ip
}
