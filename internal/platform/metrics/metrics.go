// Package metrics exposes the service's Prometheus collectors.
//
// Label values are bounded: outcomes and statuses are fixed enums and HTTP routes
// are chi route patterns, never raw paths.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Overland-East-Bay/catalog-intake-api/internal/app/bulk"
	idemapp "github.com/Overland-East-Bay/catalog-intake-api/internal/app/idempotency"
)

type Metrics struct {
	admissions     *prometheus.CounterVec
	sweepDeleted   prometheus.Counter
	sweepFailures  prometheus.Counter
	bulkItems      *prometheus.CounterVec
	bulkRequests   *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_idempotency_admissions_total",
			Help: "Idempotency gate decisions by outcome",
		}, []string{"outcome"}),
		sweepDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "intake_idempotency_swept_total",
			Help: "Expired idempotency entries removed by the sweeper",
		}),
		sweepFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "intake_idempotency_sweep_failures_total",
			Help: "Sweeper passes that failed",
		}),
		bulkItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_bulk_items_total",
			Help: "Bulk import items by result status",
		}, []string{"status"}),
		bulkRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_bulk_requests_total",
			Help: "Processed bulk imports by response code",
		}, []string{"code"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "intake_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	reg.MustRegister(m.admissions, m.sweepDeleted, m.sweepFailures, m.bulkItems, m.bulkRequests, m.requestLatency)
	return m
}

func (m *Metrics) ObserveAdmission(o idemapp.Outcome) {
	m.admissions.WithLabelValues(string(o)).Inc()
}

func (m *Metrics) ObserveSweep(deleted int, err error) {
	if err != nil {
		m.sweepFailures.Inc()
		return
	}
	m.sweepDeleted.Add(float64(deleted))
}

func (m *Metrics) ObserveBulk(res bulk.Result) {
	m.bulkItems.WithLabelValues(string(bulk.ItemSuccess)).Add(float64(res.Successful))
	m.bulkItems.WithLabelValues(string(bulk.ItemError)).Add(float64(res.Failed))
	m.bulkRequests.WithLabelValues(strconv.Itoa(res.StatusCode())).Inc()
}

func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.requestLatency.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}
