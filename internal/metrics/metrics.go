// Package metrics holds the prometheus collectors of the payday engine.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Runs
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payday_runs_total",
			Help: "Payday runs by terminal status",
		},
		[]string{"status"}, // settled|aborted
	)
	RunAborts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payday_run_aborts_total",
			Help: "Aborted payday runs by the state they aborted in",
		},
		[]string{"state"},
	)
	RunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "payday_run_duration_seconds",
			Help:    "Wall time from run start to terminal status",
			Buckets: prometheus.DefBuckets,
		},
	)
	InstructionsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payday_instructions_emitted_total",
			Help: "Transfer instructions emitted by settled runs",
		},
		[]string{"direction"}, // capture|payout
	)
	AmountSettled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payday_amount_settled_total",
			Help: "Money moved by settled runs, in currency units",
		},
		[]string{"direction"},
	)

	// Gateway dispatch
	DispatchAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payday_dispatch_attempts_total",
			Help: "Gateway transfer attempts",
		},
		[]string{"direction"},
	)
	DispatchResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payday_dispatch_results_total",
			Help: "Final dispatch outcome per instruction",
		},
		[]string{"status"}, // dispatched|failed|skipped
	)
)

// Handler serves the /metrics endpoint.
var Handler = promhttp.Handler

var initOnce sync.Once

// Init registers all collectors with the default registry. Safe to call
// more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(RunsTotal)
		prometheus.MustRegister(RunAborts)
		prometheus.MustRegister(RunDuration)
		prometheus.MustRegister(InstructionsEmitted)
		prometheus.MustRegister(AmountSettled)
		prometheus.MustRegister(DispatchAttempts)
		prometheus.MustRegister(DispatchResults)
	})
}
