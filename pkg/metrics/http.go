package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPMonitor tracks API traffic per route
type HTTPMonitor struct {
	requests      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	bytesReceived *prometheus.CounterVec
	bytesSent     *prometheus.CounterVec
}

// NewHTTPMonitor creates a monitor and registers its metrics with reg
func NewHTTPMonitor(reg prometheus.Registerer) *HTTPMonitor {
	m := &HTTPMonitor{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oracle_http_requests_total",
				Help: "HTTP requests handled by the oracle API",
			},
			[]string{"method", "route", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "oracle_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		bytesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oracle_http_request_bytes_total",
				Help: "Total bytes received in HTTP requests",
			},
			[]string{"method", "route"},
		),
		bytesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oracle_http_response_bytes_total",
				Help: "Total bytes sent in HTTP responses",
			},
			[]string{"method", "route", "status"},
		),
	}

	reg.MustRegister(m.requests, m.duration, m.bytesReceived, m.bytesSent)
	return m
}

// Middleware records every request. Routes are labelled by their mux
// template so ids in paths do not create new series.
func (m *HTTPMonitor) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		route := routeLabel(r)

		if r.ContentLength > 0 {
			m.bytesReceived.WithLabelValues(r.Method, route).Add(float64(r.ContentLength))
		}

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		status := strconv.Itoa(rw.statusCode)
		m.requests.WithLabelValues(r.Method, route, status).Inc()
		m.duration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		if rw.bytesWritten > 0 {
			m.bytesSent.WithLabelValues(r.Method, route, status).Add(float64(rw.bytesWritten))
		}
	})
}

func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// Handler serves the metrics gathered by g in the Prometheus text format
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

type responseWriter struct {
	http.ResponseWriter
	bytesWritten int
	statusCode   int
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}
