package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters for the watcher and the alert monitor.
type Metrics struct {
	blocksProcessed  prometheus.Counter
	transfersMatched prometheus.Counter
	deliveriesSent   prometheus.Counter
	deliveryFailures prometheus.Counter
	chunksDropped    prometheus.Counter
	blocksSkipped    prometheus.Counter
	alertsSent       prometheus.Counter
	errors           prometheus.Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// Init initializes global metrics (idempotent).
func Init() *Metrics {
	once.Do(func() {
		metrics = &Metrics{
			blocksProcessed: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "hyperwatch_blocks_processed_total",
				Help: "Total number of blocks processed by the poll loop",
			}),
			transfersMatched: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "hyperwatch_transfers_matched_total",
				Help: "Total number of transfers involving the watched address",
			}),
			deliveriesSent: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "hyperwatch_deliveries_sent_total",
				Help: "Total number of payloads posted to the delivery sink",
			}),
			deliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "hyperwatch_delivery_failures_total",
				Help: "Total number of transport-level delivery failures (retried)",
			}),
			chunksDropped: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "hyperwatch_chunks_dropped_total",
				Help: "Total number of log chunks dropped after retry exhaustion",
			}),
			blocksSkipped: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "hyperwatch_blocks_skipped_total",
				Help: "Total number of blocks abandoned by the catch-up cap",
			}),
			alertsSent: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "hyperwatch_alerts_sent_total",
				Help: "Total number of price alerts sent",
			}),
			errors: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "hyperwatch_errors_total",
				Help: "Total number of errors encountered",
			}),
		}
		prometheus.MustRegister(
			metrics.blocksProcessed,
			metrics.transfersMatched,
			metrics.deliveriesSent,
			metrics.deliveryFailures,
			metrics.chunksDropped,
			metrics.blocksSkipped,
			metrics.alertsSent,
			metrics.errors,
		)
	})
	return metrics
}

// BlocksProcessed adds n to the blocks processed counter.
func (m *Metrics) BlocksProcessed(n uint64) {
	if m != nil {
		m.blocksProcessed.Add(float64(n))
	}
}

// TransfersMatched increments the matched transfers counter.
func (m *Metrics) TransfersMatched() {
	if m != nil {
		m.transfersMatched.Inc()
	}
}

// DeliveriesSent increments the deliveries sent counter.
func (m *Metrics) DeliveriesSent() {
	if m != nil {
		m.deliveriesSent.Inc()
	}
}

// DeliveryFailures increments the delivery failures counter.
func (m *Metrics) DeliveryFailures() {
	if m != nil {
		m.deliveryFailures.Inc()
	}
}

// ChunksDropped increments the dropped chunks counter.
func (m *Metrics) ChunksDropped() {
	if m != nil {
		m.chunksDropped.Inc()
	}
}

// BlocksSkipped adds n to the skipped blocks counter.
func (m *Metrics) BlocksSkipped(n uint64) {
	if m != nil {
		m.blocksSkipped.Add(float64(n))
	}
}

// AlertsSent increments the alerts sent counter.
func (m *Metrics) AlertsSent() {
	if m != nil {
		m.alertsSent.Inc()
	}
}

// Errors increments the errors counter.
func (m *Metrics) Errors() {
	if m != nil {
		m.errors.Inc()
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
