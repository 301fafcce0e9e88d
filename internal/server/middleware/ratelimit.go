package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimit returns an HTTP middleware that limits requests per IP address
// to the specified number per minute. Zero disables the limit.
func RateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	if requestsPerMinute <= 0 {
		return passthrough
	}
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(tooManyRequests),
	)
}

// RateLimitByHeader limits requests by the value of headerName, such as
// X-API-Key. Requests without the header share one bucket per IP.
func RateLimitByHeader(headerName string, requestsPerMinute int) func(http.Handler) http.Handler {
	if requestsPerMinute <= 0 {
		return passthrough
	}
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if v := r.Header.Get(headerName); v != "" {
				return "h:" + v, nil
			}
			ip, err := httprate.KeyByIP(r)
			return "ip:" + ip, err
		}),
		httprate.WithLimitHandler(tooManyRequests),
	)
}

func tooManyRequests(w http.ResponseWriter, r *http.Request) {
	writeJSONError(w, http.StatusTooManyRequests, "rate_limited", "Too many requests")
}

func passthrough(next http.Handler) http.Handler {
	return next
}
