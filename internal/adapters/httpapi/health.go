package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

const ServiceName = "catalog-intake-api"

// ReadinessCheck is one dependency that must answer before the service takes traffic.
type ReadinessCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": ServiceName})
}

func readyz(checks []ReadinessCheck, timeout time.Duration, log logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		failed := map[string]string{}
		for _, c := range checks {
			if err := c.Ping(ctx); err != nil {
				log.WithError(err).WithField("check", c.Name).Warn("readiness check failed")
				failed[c.Name] = err.Error()
			}
		}
		if len(failed) > 0 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status":  "not ready",
				"service": ServiceName,
				"errors":  failed,
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "service": ServiceName})
	}
}

func serviceInfo(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"message": "Catalog Intake API",
			"service": ServiceName,
			"version": version,
		})
	}
}
