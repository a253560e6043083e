// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry wires OpenTelemetry for the weave tools and provides
// trace-correlated loggers.
//
// The pipeline and the DAG executor create spans through otel.Tracer and
// record instruments through otel.Meter. Without Init both resolve to the
// global no-op providers, so weaving works with telemetry disabled.
//
//	shutdown, err := telemetry.Init(ctx, telemetry.Config{
//	    ServiceName:    "weave",
//	    TraceExporter:  "stdout",
//	    MetricExporter: "prometheus",
//	})
//	if err != nil {
//	    return err
//	}
//	defer shutdown(context.Background())
package telemetry
