package middleware

import (
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/pulsemetrics/pulse/internal/model"
	"github.com/pulsemetrics/pulse/internal/service"
)

var versionedAPIPath = regexp.MustCompile(`^/api/v\d+/`)

// SelfMetrics records the server's own versioned API requests into
// projectID. Ingestion requests are skipped. Inserts run in the background
// and never delay or fail the response. An empty projectID disables it.
func SelfMetrics(metricSvc *service.MetricService, projectID string) func(http.Handler) http.Handler {
	if projectID == "" {
		return passthrough
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !versionedAPIPath.MatchString(r.URL.Path) || strings.HasSuffix(r.URL.Path, "/track") {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)

			in := model.MetricInput{
				URLPath:            r.URL.Path,
				Method:             r.Method,
				ResponseStatusCode: ww.status,
				ResponseTimeMs:     float64(time.Since(start).Microseconds()) / 1000.0,
			}
			if ua := r.UserAgent(); ua != "" {
				in.UserAgent = &ua
			}
			if ip := clientIP(r); ip != "" {
				in.IP = &ip
			}
			metricSvc.TrackAsync(r.Context(), projectID, in)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
