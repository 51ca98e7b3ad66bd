package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"ids/internal/httpx"
	"ids/services/hub/internal/observability/metrics"

	"github.com/go-chi/chi/v5"
)

func WithMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		sr := httpx.NewStatusRecorder(w)

		next.ServeHTTP(sr, r)

		duration := time.Since(start).Seconds()
		path := routePattern(r)
		method := r.Method
		statusStr := strconv.Itoa(sr.Status)

		metrics.HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
		metrics.HTTPRequestDurationSeconds.WithLabelValues(method, path).Observe(duration)

		slog.Default().Debug("request metrics updated",
			"method", method,
			"path", path,
			"status", sr.Status,
			"duration_seconds", duration,
		)
	})
}

// routePattern keeps label cardinality bounded by reporting the matched chi
// pattern (e.g. /admin/devices/{deviceID}) instead of the raw path.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}
