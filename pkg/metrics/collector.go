package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/psantana5/phoenix-oracle/pkg/models"
	"github.com/psantana5/phoenix-oracle/pkg/store"
)

// LedgerCollector reads ledger state from the store on every scrape
type LedgerCollector struct {
	store     store.Store
	startTime time.Time
	dropped   func() uint64

	uptime       *prometheus.Desc
	requests     *prometheus.Desc
	requestTotal *prometheus.Desc
	events       *prometheus.Desc
	droppedDesc  *prometheus.Desc
	storeUp      *prometheus.Desc
}

// NewLedgerCollector creates a collector for s. dropped reports the
// emitter's skipped deliveries and may be nil.
func NewLedgerCollector(s store.Store, dropped func() uint64) *LedgerCollector {
	return &LedgerCollector{
		store:     s,
		startTime: time.Now(),
		dropped:   dropped,
		uptime: prometheus.NewDesc("oracle_uptime_seconds",
			"Time since the oracle started", nil, nil),
		requests: prometheus.NewDesc("oracle_requests_by_status",
			"Number of requests by status", []string{"status"}, nil),
		requestTotal: prometheus.NewDesc("oracle_requests_total",
			"Total number of requests in the ledger", nil, nil),
		events: prometheus.NewDesc("oracle_events_total",
			"Number of events in the durable log", nil, nil),
		droppedDesc: prometheus.NewDesc("oracle_emitter_dropped_total",
			"Event deliveries skipped because a subscriber buffer was full", nil, nil),
		storeUp: prometheus.NewDesc("oracle_store_up",
			"Whether the last store health check succeeded", nil, nil),
	}
}

// Describe implements prometheus.Collector
func (c *LedgerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.uptime
	ch <- c.requests
	ch <- c.requestTotal
	ch <- c.events
	ch <- c.droppedDesc
	ch <- c.storeUp
}

// Collect implements prometheus.Collector
func (c *LedgerCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.uptime, prometheus.GaugeValue, time.Since(c.startTime).Seconds())

	if c.dropped != nil {
		ch <- prometheus.MustNewConstMetric(c.droppedDesc, prometheus.CounterValue, float64(c.dropped()))
	}

	up := 1.0
	if err := c.store.HealthCheck(); err != nil {
		up = 0
	}
	ch <- prometheus.MustNewConstMetric(c.storeUp, prometheus.GaugeValue, up)

	m, err := c.store.GetRequestMetrics()
	if err != nil {
		ch <- prometheus.NewInvalidMetric(c.requestTotal, err)
		return
	}

	for _, status := range []models.RequestStatus{
		models.RequestStatusPending,
		models.RequestStatusFulfilled,
		models.RequestStatusCancelled,
		models.RequestStatusExpired,
	} {
		ch <- prometheus.MustNewConstMetric(c.requests, prometheus.GaugeValue,
			float64(m.RequestsByStatus[status]), string(status))
	}
	ch <- prometheus.MustNewConstMetric(c.requestTotal, prometheus.GaugeValue, float64(m.TotalRequests))
	ch <- prometheus.MustNewConstMetric(c.events, prometheus.CounterValue, float64(m.TotalEvents))
}
