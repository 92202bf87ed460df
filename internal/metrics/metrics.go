// Package metrics exposes queue aggregates and dispatch outcomes to Prometheus.
//
// Collector owns a private registry so several daemons (or tests) can coexist
// in one process. It implements api.Observer: the queue service reports every
// dispatch and cleanup outcome, and stats refreshes replace the per-queue gauges.
package metrics

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"queueflow/internal/api"
)

const namespace = "queueflow"

// unknownQueue labels dispatch calls against queue ids that do not exist.
const unknownQueue = "unknown"

// Collector holds the queue metrics.
type Collector struct {
	registry *prometheus.Registry

	items       *prometheus.GaugeVec
	avgMs       *prometheus.GaugeVec
	dispatches  *prometheus.CounterVec
	cleanup     *prometheus.CounterVec
	cleanupRuns prometheus.Counter
	cleanupErrs prometheus.Counter

	mu         sync.Mutex
	queues     map[string]struct{}
	dispatched map[string]struct{}
}

// New constructs a Collector with Go runtime and process collectors registered.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		items: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_items",
			Help:      "Work items per queue and status from the latest stats snapshot.",
		}, []string{"queue_id", "status"}),
		avgMs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_avg_processing_ms",
			Help:      "Average processing time of completed items per queue.",
		}, []string{"queue_id"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_total",
			Help:      "Dispatch calls by queue and outcome.",
		}, []string{"queue_id", "outcome"}),
		cleanup: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_removed_total",
			Help:      "Rows removed or relocated by cleanup, by category.",
		}, []string{"category"}),
		cleanupRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_runs_total",
			Help:      "Completed cleanup passes.",
		}),
		cleanupErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_step_errors_total",
			Help:      "Cleanup steps that failed and were skipped.",
		}),
		queues:     make(map[string]struct{}),
		dispatched: make(map[string]struct{}),
	}
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.items,
		c.avgMs,
		c.dispatches,
		c.cleanup,
		c.cleanupRuns,
		c.cleanupErrs,
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveDispatch counts one dispatch call. Ids of zero or below share the
// unknown label; series of queues missing from the next stats snapshot are
// dropped by ObserveStats.
func (c *Collector) ObserveDispatch(queueID int64, outcome string) {
	label := unknownQueue
	if queueID > 0 {
		label = queueLabel(queueID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dispatched[label] = struct{}{}
	c.dispatches.WithLabelValues(label, outcome).Inc()
}

// ObserveCleanup adds one pass's removal counts.
func (c *Collector) ObserveCleanup(result api.CleanupResponse) {
	c.cleanupRuns.Inc()
	c.cleanup.WithLabelValues("orphaned").Add(float64(result.OrphanedItemsRemoved))
	c.cleanup.WithLabelValues("expired").Add(float64(result.OldCompletedItemsRemoved))
	c.cleanup.WithLabelValues("invalid_task").Add(float64(result.InvalidTasksRemoved))
	c.cleanup.WithLabelValues("invalid_ticket").Add(float64(result.InvalidTicketsRemoved))
	c.cleanup.WithLabelValues("dead_lettered").Add(float64(result.DeadLettered))
	c.cleanupErrs.Add(float64(len(result.Errors)))
}

// ObserveStats replaces the per-queue gauges with a fresh snapshot. Gauges and
// dispatch counters of queues missing from the snapshot are dropped.
func (c *Collector) ObserveStats(stats []api.QueueStats) {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[string]struct{}, len(stats))
	for _, st := range stats {
		label := queueLabel(st.QueueID)
		seen[label] = struct{}{}
		c.items.WithLabelValues(label, "queued").Set(float64(st.Queued))
		c.items.WithLabelValues(label, "in_progress").Set(float64(st.InProgress))
		c.items.WithLabelValues(label, "completed").Set(float64(st.Completed))
		c.items.WithLabelValues(label, "failed").Set(float64(st.Failed))
		c.items.WithLabelValues(label, "cancelled").Set(float64(st.Cancelled))
		c.avgMs.WithLabelValues(label).Set(st.AvgProcessingMs)
	}
	for label := range c.queues {
		if _, ok := seen[label]; ok {
			continue
		}
		c.items.DeletePartialMatch(prometheus.Labels{"queue_id": label})
		c.avgMs.DeleteLabelValues(label)
	}
	c.queues = seen

	for label := range c.dispatched {
		if _, ok := seen[label]; ok || label == unknownQueue {
			continue
		}
		c.dispatches.DeletePartialMatch(prometheus.Labels{"queue_id": label})
		delete(c.dispatched, label)
	}
}

func queueLabel(queueID int64) string {
	return strconv.FormatInt(queueID, 10)
}
