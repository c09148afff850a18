// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	watchRoundsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rcwatch_watch_rounds_total",
		Help: "Convergence rounds executed",
	})

	watchPendingVideos = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rcwatch_watch_pending_videos",
		Help: "Videos not yet reported complete after the last progress poll",
	})

	watchVideoOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rcwatch_watch_video_operations_total",
		Help: "Per-video operations issued by the convergence loop by outcome",
	}, []string{"operation", "outcome"}) // operation=enrich|submit|poll, outcome=success|failure

	watchTelemetryEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rcwatch_watch_telemetry_events_total",
		Help: "Synthesized playback events submitted",
	})

	watchRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rcwatch_watch_runs_total",
		Help: "Completed convergence runs by outcome",
	}, []string{"outcome"}) // outcome=converged|exhausted|canceled|failed
)

// RecordRound counts one convergence round and the pending set it ended with.
func RecordRound(pending int) {
	watchRoundsTotal.Inc()
	watchPendingVideos.Set(float64(pending))
}

// RecordVideoOp counts one per-video remote operation.
func RecordVideoOp(operation string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	watchVideoOps.WithLabelValues(operation, outcome).Inc()
}

// RecordTelemetryEvents counts submitted playback events.
func RecordTelemetryEvents(n int) {
	watchTelemetryEvents.Add(float64(n))
}

// RecordRun counts a finished run.
func RecordRun(outcome string) {
	watchRunsTotal.WithLabelValues(outcome).Inc()
}
