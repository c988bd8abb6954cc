// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tam

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the TAM's prometheus instrumentation, registered against a
// caller-supplied registry the way worker.Pool.registerMetrics does in the
// teacher package.
type Metrics struct {
	ContainersRequested prometheus.Counter
	FitMisses            prometheus.Counter
	TMRestarts           prometheus.Counter
	WorkersRunning       prometheus.Gauge
}

// NewMetrics registers and returns a fresh Metrics. If reg is nil, a new
// unexported registry is created so the TAM remains usable without a
// caller-supplied registry (e.g. in tests).
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		ContainersRequested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "heron",
			Subsystem: "tam",
			Name:      "containers_requested_total",
			Help:      "Number of container requests submitted to the resource manager.",
		}),
		FitMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "heron",
			Subsystem: "tam",
			Name:      "allocation_fit_misses_total",
			Help:      "Number of granted allocations that fit no pending worker and were closed.",
		}),
		TMRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "heron",
			Subsystem: "tam",
			Name:      "tmaster_restarts_total",
			Help:      "Number of times the Topology Master process was relaunched after exiting.",
		}),
		WorkersRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "heron",
			Subsystem: "tam",
			Name:      "workers_running",
			Help:      "Number of logical workers currently in the RUNNING state.",
		}),
	}
	reg.MustRegister(m.ContainersRequested, m.FitMisses, m.TMRestarts, m.WorkersRunning)
	return m
}
