// Package metrics exposes keeper counters and the HTTP status surface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trovepilot_cycles_total",
		Help: "Keeper cycles run, by agent and outcome.",
	}, []string{"agent", "outcome"})

	TrovesScanned = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trovepilot_troves_scanned_total",
		Help: "Positions examined during discovery.",
	}, []string{"agent"})

	CandidatesFound = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trovepilot_candidates_total",
		Help: "Undercollateralized positions discovered.",
	}, []string{"agent"})

	ActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trovepilot_actions_total",
		Help: "Terminal action outcomes, by kind and state.",
	}, []string{"agent", "kind", "state"})

	SkipsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trovepilot_skips_total",
		Help: "Actions refused before submission, by reason.",
	}, []string{"agent", "reason"})

	GasUsedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trovepilot_gas_used_total",
		Help: "Gas consumed by mined keeper transactions.",
	}, []string{"agent"})

	SpentNative = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "trovepilot_spent_native",
		Help: "Cumulative keeper gas spend for the current process, in native token units.",
	}, []string{"agent"})

	PriceWad = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trovepilot_price",
		Help: "Last collateral price accepted by the gate, in quote units.",
	})

	CycleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trovepilot_cycle_duration_seconds",
		Help:    "Wall time of a keeper cycle.",
		Buckets: prometheus.DefBuckets,
	}, []string{"agent"})
)
