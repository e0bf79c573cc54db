package middleware

import (
	"net/http"
	"time"

	"tabs-api-go/metrics"

	"github.com/gorilla/mux"
)

// Instrument records request counts and latency by route template.
// Use it with router.Use so the matched route is available.
func Instrument(m *metrics.Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := NewResponseRecorder(w)
			next.ServeHTTP(rec, r)

			route := "unmatched"
			if current := mux.CurrentRoute(r); current != nil {
				if tpl, err := current.GetPathTemplate(); err == nil {
					route = tpl
				}
			}
			m.ObserveRequest(r.Method, route, rec.StatusCode, time.Since(start))
		})
	}
}
