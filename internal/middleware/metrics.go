package middleware

import (
	"net/http"
	"time"

	"github.com/sakif/jamflow/internal/metrics"
)

// Metrics counts requests and observes their duration per chi route pattern.
// Durations include the whole streamed body.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := wrap(w)

		next.ServeHTTP(wrapped, r)

		metrics.RecordHTTPRequest(r.Method, routePattern(r), wrapped.statusCode, time.Since(start))
	})
}
