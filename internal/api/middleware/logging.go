package middleware

import (
	"net/http"
	"strconv"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/aiopslab/task-dispatch/internal/logger"
	"github.com/aiopslab/task-dispatch/internal/metrics"
)

// RequestLogger logs each request's method, path, status, duration, and
// chi's request id, and records the same fields as Prometheus metrics.
func RequestLogger() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			duration := time.Since(start)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Dur("duration", duration).
				Str("request_id", chimiddleware.GetReqID(r.Context())).
				Msg("request handled")

			metrics.RecordHTTPRequest(r.Method, r.URL.Path, strconv.Itoa(status), duration.Seconds())
		})
	}
}
