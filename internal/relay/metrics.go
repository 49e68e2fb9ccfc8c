package relay

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "feedrelay"

// Metrics holds the relay's prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	rowsIngested     prometheus.Counter
	rowsPublished    prometheus.Counter
	deliveries       *prometheus.CounterVec
	evictions        prometheus.Counter
	replays          prometheus.Counter
	subscribers      prometheus.GaugeFunc
	snapshotRows     prometheus.GaugeFunc
	snapshotComplete prometheus.GaugeFunc
}

// NewMetrics builds collectors reading live values from registry and store,
// and registers them with reg when reg is non-nil.
func NewMetrics(reg prometheus.Registerer, registry *Registry, store *SnapshotStore) (*Metrics, error) {
	m := &Metrics{
		rowsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rows_ingested_total",
			Help:      "Rows read from the change source.",
		}),
		rowsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rows_published_total",
			Help:      "Rows handed to the broadcaster.",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "deliveries_total",
			Help:      "Per-subscriber delivery attempts by result.",
		}, []string{"result"}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "subscribers_evicted_total",
			Help:      "Subscribers disconnected because their queue was full.",
		}),
		replays: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "snapshot_replays_total",
			Help:      "Snapshot replays sent to subscribers.",
		}),
		subscribers: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "subscribers",
			Help:      "Currently registered subscribers.",
		}, func() float64 { return float64(registry.Len()) }),
		snapshotRows: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "snapshot_rows",
			Help:      "Rows in the retained snapshot.",
		}, func() float64 { return float64(store.Len()) }),
		snapshotComplete: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "snapshot_complete",
			Help:      "1 once the snapshot has been recorded.",
		}, func() float64 {
			if store.IsComplete() {
				return 1
			}
			return 0
		}),
	}

	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{
		m.rowsIngested, m.rowsPublished, m.deliveries, m.evictions,
		m.replays, m.subscribers, m.snapshotRows, m.snapshotComplete,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("registering metrics: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) ingested() {
	if m != nil {
		m.rowsIngested.Inc()
	}
}

func (m *Metrics) published() {
	if m != nil {
		m.rowsPublished.Inc()
	}
}

func (m *Metrics) delivery(result string) {
	if m != nil {
		m.deliveries.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) evicted() {
	if m != nil {
		m.evictions.Inc()
	}
}

func (m *Metrics) replayed() {
	if m != nil {
		m.replays.Inc()
	}
}
