// Package metrics exposes pipeline counters through a private Prometheus
// registry. Scheduled runs dump it as a node_exporter textfile.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "reportsync"

// Metrics holds every pipeline collector.
type Metrics struct {
	Registry *prometheus.Registry

	PayloadsPacked prometheus.Counter
	JobsUnpacked   prometheus.Counter
	JobsFailed     prometheus.Counter
	PayloadsSwept  prometheus.Counter
	FilesMerged    prometheus.Counter
	FilesRejected  *prometheus.CounterVec
	FilesPending   prometheus.Counter
	StoreConflicts prometheus.Counter
	LastRun        *prometheus.GaugeVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		PayloadsPacked: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "payloads_packed_total",
			Help: "Payloads published by the packager.",
		}),
		JobsUnpacked: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_unpacked_total",
			Help: "Triggered jobs unpacked into staging.",
		}),
		JobsFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_failed_total",
			Help: "Triggered jobs left in place because trigger or payload was unusable.",
		}),
		PayloadsSwept: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "payloads_swept_total",
			Help: "Payloads deleted by the retention sweep.",
		}),
		FilesMerged: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "files_merged_total",
			Help: "Reports copied into the archive.",
		}),
		FilesRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "files_rejected_total",
			Help: "Reports rejected by the validator, by reason.",
		}, []string{"reason"}),
		FilesPending: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "files_pending_total",
			Help: "Reports whose copy failed and will be retried.",
		}),
		StoreConflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "store_conflicts_total",
			Help: "Publishes rejected because another writer got there first.",
		}),
		LastRun: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_run_timestamp_seconds",
			Help: "Unix time of the last completed run, by stage.",
		}, []string{"stage"}),
	}
}

// Conflict is a mailbox conflict callback.
func (m *Metrics) Conflict(int) { m.StoreConflicts.Inc() }

// MarkRun records the completion time of stage.
func (m *Metrics) MarkRun(stage string, at time.Time) {
	m.LastRun.WithLabelValues(stage).Set(float64(at.Unix()))
}

// WriteTextfile dumps the registry in the text exposition format. An empty
// path is a no-op.
func (m *Metrics) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create textfile dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
