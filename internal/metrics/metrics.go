// Package metrics provides operation counters for the canonization engine.
// The engine records through the Recorder interface so nothing outside this
// package depends on a live Prometheus registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Recorder receives engine observations. Implemented by Collector
// (Prometheus) and Noop (tests, embedded use).
type Recorder interface {
	// ProposalSubmitted counts a proposal entering the intake queue.
	ProposalSubmitted(scope string)
	// ProposalDecided counts a canonization decision by outcome.
	ProposalDecided(scope, status string)
	// ConflictDetected counts a detected contradiction by class.
	ConflictDetected(class string)
	// LedgerAppend counts a committed ledger transaction and its records.
	LedgerAppend(records int)
	// ReplayDuration observes one state reconstruction, in milliseconds.
	ReplayDuration(durationMs int64)
}

// Collector is the Prometheus-backed Recorder.
type Collector struct {
	proposalsSubmitted *prometheus.CounterVec
	proposalsDecided   *prometheus.CounterVec
	conflictsTotal     *prometheus.CounterVec
	ledgerAppends      prometheus.Counter
	ledgerRecords      prometheus.Counter
	replayDuration     prometheus.Histogram
	registry           *prometheus.Registry
}

// NewCollector creates a Collector with its own registry.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	proposalsSubmitted := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canonry_proposals_submitted_total",
			Help: "Total proposals submitted for canonization, by scope",
		},
		[]string{"scope"},
	)

	proposalsDecided := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canonry_proposals_decided_total",
			Help: "Total canonization decisions, by scope and outcome",
		},
		[]string{"scope", "status"},
	)

	conflictsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canonry_conflicts_total",
			Help: "Total contradictions detected, by conflict class",
		},
		[]string{"class"},
	)

	ledgerAppends := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "canonry_ledger_appends_total",
			Help: "Total committed ledger transactions",
		},
	)

	ledgerRecords := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "canonry_ledger_records_total",
			Help: "Total change records appended to the ledger",
		},
	)

	replayDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "canonry_replay_duration_seconds",
			Help:    "Duration of state reconstructions",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
	)

	registry.MustRegister(proposalsSubmitted)
	registry.MustRegister(proposalsDecided)
	registry.MustRegister(conflictsTotal)
	registry.MustRegister(ledgerAppends)
	registry.MustRegister(ledgerRecords)
	registry.MustRegister(replayDuration)

	return &Collector{
		proposalsSubmitted: proposalsSubmitted,
		proposalsDecided:   proposalsDecided,
		conflictsTotal:     conflictsTotal,
		ledgerAppends:      ledgerAppends,
		ledgerRecords:      ledgerRecords,
		replayDuration:     replayDuration,
		registry:           registry,
	}
}

// ProposalSubmitted implements Recorder.
func (c *Collector) ProposalSubmitted(scope string) {
	c.proposalsSubmitted.WithLabelValues(scope).Inc()
}

// ProposalDecided implements Recorder.
func (c *Collector) ProposalDecided(scope, status string) {
	c.proposalsDecided.WithLabelValues(scope, status).Inc()
}

// ConflictDetected implements Recorder.
func (c *Collector) ConflictDetected(class string) {
	c.conflictsTotal.WithLabelValues(class).Inc()
}

// LedgerAppend implements Recorder.
func (c *Collector) LedgerAppend(records int) {
	c.ledgerAppends.Inc()
	c.ledgerRecords.Add(float64(records))
}

// ReplayDuration implements Recorder.
func (c *Collector) ReplayDuration(durationMs int64) {
	c.replayDuration.Observe(float64(durationMs) / 1000.0)
}

// Registry returns the Prometheus registry for HTTP exposure.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Noop discards all observations.
type Noop struct{}

func (Noop) ProposalSubmitted(string)      {}
func (Noop) ProposalDecided(string, string) {}
func (Noop) ConflictDetected(string)       {}
func (Noop) LedgerAppend(int)              {}
func (Noop) ReplayDuration(int64)          {}
