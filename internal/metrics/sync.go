package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/elicharlese/Tree-Of-Life-Agency-sub000/internal/offline"
)

// SyncMetrics holds the sync agent's counters. It implements offline.Observer.
type SyncMetrics struct {
	Replays *prometheus.CounterVec
	Syncs   *prometheus.CounterVec
}

func NewSyncMetrics(registry prometheus.Registerer) *SyncMetrics {
	factory := promauto.With(registry)

	return &SyncMetrics{
		Replays: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "operations_replayed_total",
			Help:      "Queued operations replayed against the API by result",
		}, []string{"result"}),
		Syncs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "full_syncs_total",
			Help:      "Full sync passes by result",
		}, []string{"result"}),
	}
}

func (m *SyncMetrics) OperationReplayed(result offline.ReplayResult) {
	m.Replays.WithLabelValues(string(result)).Inc()
}

func (m *SyncMetrics) SyncCompleted(ok bool) {
	result := "failed"
	if ok {
		result = "ok"
	}
	m.Syncs.WithLabelValues(result).Inc()
}

// QueueStatsSource is satisfied by *offline.Queue.
type QueueStatsSource interface {
	Stats() offline.SyncStats
}

// QueueCollector reports queue depth and connectivity at scrape time.
type QueueCollector struct {
	source QueueStatsSource

	pending   *prometheus.Desc
	failed    *prometheus.Desc
	dead      *prometheus.Desc
	connected *prometheus.Desc
	lastSync  *prometheus.Desc
}

func NewQueueCollector(source QueueStatsSource) *QueueCollector {
	name := func(s string) string { return prometheus.BuildFQName(namespace, "sync", s) }
	return &QueueCollector{
		source:    source,
		pending:   prometheus.NewDesc(name("pending_operations"), "Operations waiting to be replayed", nil, nil),
		failed:    prometheus.NewDesc(name("failed_operations"), "Pending operations that have failed at least once", nil, nil),
		dead:      prometheus.NewDesc(name("dead_letter_operations"), "Operations that exhausted their retries", nil, nil),
		connected: prometheus.NewDesc(name("connected"), "1 when the API is reachable", nil, nil),
		lastSync:  prometheus.NewDesc(name("last_success_timestamp_seconds"), "Start time of the last successful full sync", nil, nil),
	}
}

func (c *QueueCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.pending
	ch <- c.failed
	ch <- c.dead
	ch <- c.connected
	ch <- c.lastSync
}

func (c *QueueCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.source.Stats()

	connected := 0.0
	if stats.IsConnected {
		connected = 1
	}
	ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, float64(stats.PendingOperations))
	ch <- prometheus.MustNewConstMetric(c.failed, prometheus.GaugeValue, float64(stats.FailedOperations))
	ch <- prometheus.MustNewConstMetric(c.dead, prometheus.GaugeValue, float64(stats.DeadLetterOperations))
	ch <- prometheus.MustNewConstMetric(c.connected, prometheus.GaugeValue, connected)
	if stats.LastSync != nil {
		ch <- prometheus.MustNewConstMetric(c.lastSync, prometheus.GaugeValue, float64(stats.LastSync.Unix()))
	}
}
