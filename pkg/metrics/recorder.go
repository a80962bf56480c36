package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/psantana5/phoenix-oracle/pkg/models"
)

// Recorder counts oracle operation outcomes
type Recorder struct {
	requestsLogged prometheus.Counter
	requestsClosed *prometheus.CounterVec
	rejections     *prometheus.CounterVec
	transfers      prometheus.Counter
}

// NewRecorder creates a recorder and registers its metrics with reg
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		requestsLogged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oracle_requests_logged_total",
			Help: "Requests accepted into the ledger",
		}),
		requestsClosed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oracle_requests_closed_total",
				Help: "Requests that left the pending state, by final status",
			},
			[]string{"status"},
		),
		rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oracle_fulfillments_rejected_total",
				Help: "Fulfillment attempts rejected before any state change, by reason",
			},
			[]string{"reason"},
		),
		transfers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oracle_ownership_transfers_total",
			Help: "Completed ownership transfers",
		}),
	}

	reg.MustRegister(r.requestsLogged, r.requestsClosed, r.rejections, r.transfers)
	return r
}

// RequestLogged counts a new request
func (r *Recorder) RequestLogged() {
	r.requestsLogged.Inc()
}

// RequestClosed counts a request reaching a terminal status
func (r *Recorder) RequestClosed(status models.RequestStatus) {
	r.requestsClosed.WithLabelValues(string(status)).Inc()
}

// FulfillmentRejected counts a rejected fulfillment
func (r *Recorder) FulfillmentRejected(reason string) {
	r.rejections.WithLabelValues(reason).Inc()
}

// OwnershipTransferred counts an ownership change
func (r *Recorder) OwnershipTransferred() {
	r.transfers.Inc()
}
