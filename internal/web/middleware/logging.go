// Package middleware holds the HTTP middleware that is specific to this
// service; generic pieces (request id, recoverer, compression) come from chi.
package middleware

import (
	"net/http"
	"time"

	"github.com/sitebooks/importer/internal/logging"
)

// RequestLog emits one structured log line per request with method, path,
// status, duration and client address. The logger comes from the request
// context so lines carry the chi request id.
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}

		next.ServeHTTP(sw, r)

		status := sw.status
		if status == 0 {
			status = http.StatusOK
		}
		logging.FromContext(r.Context()).Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", r.RemoteAddr,
		)
	})
}

// statusWriter records the status code written to the response.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

// Unwrap lets SSE handlers reach the http.Flusher underneath.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
