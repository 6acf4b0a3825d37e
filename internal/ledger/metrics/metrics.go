package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the relationship ledger. Tracks
// transition counts and the accept critical path.
type Metrics struct {
	RequestsCreated      prometheus.Counter
	RequestsAccepted     prometheus.Counter
	RequestsRejected     prometheus.Counter
	RequestsExpired      prometheus.Counter
	RelationshipsRevoked prometheus.Counter
	AcceptIdempotentHits prometheus.Counter
	AcceptDuration       prometheus.Histogram
}

// New creates a Metrics instance with all ledger metrics registered.
func New() *Metrics {
	return &Metrics{
		RequestsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "carelink_connection_requests_created_total",
			Help: "Total number of connection requests created",
		}),
		RequestsAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "carelink_connection_requests_accepted_total",
			Help: "Total number of connection requests accepted",
		}),
		RequestsRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "carelink_connection_requests_rejected_total",
			Help: "Total number of connection requests rejected",
		}),
		RequestsExpired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "carelink_connection_requests_expired_total",
			Help: "Total number of connection requests expired",
		}),
		RelationshipsRevoked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "carelink_relationships_revoked_total",
			Help: "Total number of relationships revoked",
		}),
		AcceptIdempotentHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "carelink_accept_idempotent_hits_total",
			Help: "Accepts that found an existing active relationship instead of creating one",
		}),
		AcceptDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "carelink_accept_request_duration_seconds",
			Help:    "Duration of AcceptRequest operations (uniqueness critical path)",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// ObserveAccept records the duration of an AcceptRequest operation.
// Call with time.Now() captured at the start of the operation.
func (m *Metrics) ObserveAccept(start time.Time) {
	m.AcceptDuration.Observe(time.Since(start).Seconds())
}
