// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("aleutian.weave.pipeline")

// =============================================================================
// Prometheus Metrics for the Weave Pipeline
// =============================================================================

var (
	// runsTotal counts pipeline runs.
	// Labels: result (success, diagnostics, fatal, cycle, canceled, error)
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "weave",
		Subsystem: "pipeline",
		Name:      "runs_total",
		Help:      "Total weave pipeline runs by result",
	}, []string{"result"})

	// stageDuration measures stage latency.
	// Labels: kind (advice, collaborator)
	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "weave",
		Subsystem: "pipeline",
		Name:      "stage_duration_seconds",
		Help:      "Weave stage latency in seconds",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"kind"})

	// instancesTotal counts evaluated aspect instances.
	// Labels: outcome (succeeded, recoverable, fatal, skipped)
	instancesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "weave",
		Subsystem: "pipeline",
		Name:      "instances_total",
		Help:      "Total aspect instances evaluated by outcome",
	}, []string{"outcome"})

	// adviceTotal counts advice produced by aspects.
	// Labels: kind (override-member, introduce-member, implement-interface)
	adviceTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "weave",
		Subsystem: "pipeline",
		Name:      "advice_total",
		Help:      "Total advice produced by kind",
	}, []string{"kind"})

	// transformationsTotal counts accepted transformations.
	// Labels: kind
	transformationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "weave",
		Subsystem: "pipeline",
		Name:      "transformations_total",
		Help:      "Total accepted transformations by kind",
	}, []string{"kind"})

	// diagnosticsTotal counts reported diagnostics.
	// Labels: severity, code
	diagnosticsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "weave",
		Subsystem: "pipeline",
		Name:      "diagnostics_total",
		Help:      "Total diagnostics reported by severity and code",
	}, []string{"severity", "code"})
)
