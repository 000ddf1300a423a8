package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const CorrelationIDHeader = "X-Correlation-ID"

// HTTPMetrics observes one completed request.
type HTTPMetrics interface {
	ObserveHTTP(method, route string, status int, d time.Duration)
}

// NewRequestLogger logs every request and echoes request and correlation ids.
// Route labels come from the matched chi pattern so raw ids never reach metrics.
func NewRequestLogger(log logrus.FieldLogger, metrics HTTPMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			correlationID := r.Header.Get(CorrelationIDHeader)
			if correlationID == "" {
				correlationID = uuid.NewString()
			}
			requestID := middleware.GetReqID(r.Context())
			w.Header().Set(CorrelationIDHeader, correlationID)
			if requestID != "" {
				w.Header().Set(middleware.RequestIDHeader, requestID)
			}

			reqLog := log.WithFields(logrus.Fields{
				"request_id":     requestID,
				"correlation_id": correlationID,
				"method":         r.Method,
				"path":           r.URL.Path,
				"client_ip":      r.RemoteAddr,
			})
			reqLog.Debug("request started")

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				elapsed := time.Since(start)
				route := ""
				if rc := chi.RouteContext(r.Context()); rc != nil {
					route = rc.RoutePattern()
				}
				if metrics != nil {
					metrics.ObserveHTTP(r.Method, route, status, elapsed)
				}
				reqLog.WithFields(logrus.Fields{
					"status":      status,
					"bytes":       ww.BytesWritten(),
					"duration_ms": elapsed.Milliseconds(),
				}).Info("request completed")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
