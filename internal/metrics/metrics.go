/*
Package metrics holds the Prometheus counters for feedback review runs.

The CLI is short-lived, so metrics live in a private registry and are written
to a node_exporter textfile after each run instead of being served over HTTP.
*/
package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder receives review lifecycle events. *ReviewMetrics implements it.
type Recorder interface {
	SessionFinished(outcome string, batchSize int)
	Labeled(label string)
	CorruptPending()
}

// ReviewMetrics holds all Prometheus metrics for the review workflow.
type ReviewMetrics struct {
	registry *prometheus.Registry

	SessionsTotal       *prometheus.CounterVec
	LabelsTotal         *prometheus.CounterVec
	CorruptPendingTotal prometheus.Counter
	LastBatchSize       prometheus.Gauge
}

// NewReviewMetrics creates the metrics and registers them on a fresh registry.
func NewReviewMetrics() *ReviewMetrics {
	m := &ReviewMetrics{
		registry: prometheus.NewRegistry(),
		SessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "astraguard",
			Subsystem: "feedback",
			Name:      "sessions_total",
			Help:      "Review sessions by outcome.",
		}, []string{"outcome"}), // outcome: empty, committed, aborted, failed
		LabelsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "astraguard",
			Subsystem: "feedback",
			Name:      "labels_total",
			Help:      "Labels assigned by operators, counted as they are entered, including in sessions that are later aborted.",
		}, []string{"label"}),
		CorruptPendingTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "astraguard",
			Subsystem: "feedback",
			Name:      "corrupt_pending_total",
			Help:      "Pending stores dropped because they failed validation.",
		}),
		LastBatchSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "astraguard",
			Subsystem: "feedback",
			Name:      "last_batch_size",
			Help:      "Number of events committed by the most recent review session, 0 unless it committed.",
		}),
	}

	m.registry.MustRegister(m.SessionsTotal, m.LabelsTotal, m.CorruptPendingTotal, m.LastBatchSize)
	return m
}

// SessionFinished records the terminal state of a review session.
func (m *ReviewMetrics) SessionFinished(outcome string, batchSize int) {
	m.SessionsTotal.WithLabelValues(outcome).Inc()
	m.LastBatchSize.Set(float64(batchSize))
}

// Labeled counts one operator label.
func (m *ReviewMetrics) Labeled(label string) {
	m.LabelsTotal.WithLabelValues(label).Inc()
}

// CorruptPending counts one dropped pending store.
func (m *ReviewMetrics) CorruptPending() {
	m.CorruptPendingTotal.Inc()
}

// Registry exposes the registry for gathering.
func (m *ReviewMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes the registry atomically in text exposition format.
func (m *ReviewMetrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

// Nop discards every event.
type Nop struct{}

func (Nop) SessionFinished(string, int) {}
func (Nop) Labeled(string)              {}
func (Nop) CorruptPending()             {}
