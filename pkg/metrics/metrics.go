package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	dto "github.com/prometheus/client_model/go"
)

// Registry collects every Hindsight metric. Nothing listens on a port; the
// daemon gathers the registry and logs a summary on its status interval.
var Registry = prometheus.NewRegistry()

var (
	// EventsCollected counts events emitted by collectors, by type and source.
	EventsCollected = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "hindsight_events_collected_total",
		Help: "Total events emitted by collectors",
	}, []string{"type", "source"})

	// InsertErrors counts events dropped because the store rejected them.
	InsertErrors = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Name: "hindsight_insert_errors_total",
		Help: "Total events dropped on store insert failure",
	})

	// CollectorErrors counts per-collector produce failures.
	CollectorErrors = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "hindsight_collector_errors_total",
		Help: "Total collector produce failures",
	}, []string{"collector"})

	// GraphSaves counts graph snapshot writes.
	GraphSaves = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Name: "hindsight_graph_saves_total",
		Help: "Total graph snapshot writes",
	})

	// GraphNodes and GraphEdges track the current graph size.
	GraphNodes = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Name: "hindsight_graph_nodes",
		Help: "Current number of graph nodes",
	})
	GraphEdges = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Name: "hindsight_graph_edges",
		Help: "Current number of graph edges",
	})

	// QueueDepth tracks the filesystem watcher's pending event queue.
	QueueDepth = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Name: "hindsight_watcher_queue_depth",
		Help: "Filesystem watcher queued events awaiting normalization",
	})

	// QueueDropped counts filesystem notifications discarded on overflow.
	QueueDropped = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Name: "hindsight_watcher_queue_dropped_total",
		Help: "Filesystem notifications dropped due to a full queue",
	})
)

// LogSummary gathers the registry and writes one debug line per metric
// family with a non-zero value.
func LogSummary(logger zerolog.Logger) {
	families, err := Registry.Gather()
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to gather metrics")
		return
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			value := metricValue(m)
			if value == 0 {
				continue
			}
			evt := logger.Debug().Str("metric", mf.GetName()).Float64("value", value)
			for _, label := range m.GetLabel() {
				evt = evt.Str(label.GetName(), label.GetValue())
			}
			evt.Msg("Metric")
		}
	}
}

func metricValue(m *dto.Metric) float64 {
	if c := m.GetCounter(); c != nil {
		return c.GetValue()
	}
	if g := m.GetGauge(); g != nil {
		return g.GetValue()
	}
	return 0
}
