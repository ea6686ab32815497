package middleware

import (
	"net/http"
	"time"

	"github.com/restio/restio/pkg/metrics"
)

// Metrics records a request counter and latency histogram per route. The
// route label is the matched ServeMux pattern, not the raw path, so label
// cardinality stays bounded.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := NewResponseRecorder(w)
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		metrics.ObserveRequest(r.Method, route, rec.StatusCode, start)
	})
}
