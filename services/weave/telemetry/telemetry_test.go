// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

func TestDefaultConfig(t *testing.T) {
	t.Setenv("OTEL_TRACES_EXPORTER", "")
	t.Setenv("OTEL_METRICS_EXPORTER", "stdout")

	cfg := DefaultConfig()
	assert.Equal(t, "weave", cfg.ServiceName)
	assert.Equal(t, ExporterNone, cfg.TraceExporter)
	assert.Equal(t, ExporterStdout, cfg.MetricExporter)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
}

func TestInit_NilContext(t *testing.T) {
	//nolint:staticcheck // nil context is the case under test
	_, err := Init(nil, Config{})
	assert.ErrorIs(t, err, ErrNilContext)
}

func TestInit_Disabled(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{TraceExporter: ExporterNone})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_UnknownExporter(t *testing.T) {
	_, err := Init(context.Background(), Config{TraceExporter: "zipkin"})
	assert.ErrorIs(t, err, ErrUnknownExporter)

	_, err = Init(context.Background(), Config{MetricExporter: "statsd"})
	assert.ErrorIs(t, err, ErrUnknownExporter)
}

func TestInit_StdoutTraces(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	shutdown, err := Init(context.Background(), Config{
		ServiceName:   "weave-test",
		TraceExporter: ExporterStdout,
		Output:        &buf,
	})
	require.NoError(t, err)

	_, span := otel.Tracer("aleutian.weave.test").Start(context.Background(), "weave.run")
	span.End()
	require.NoError(t, shutdown(context.Background()))

	assert.Contains(t, buf.String(), "weave.run")
	assert.Contains(t, buf.String(), "weave-test")
}

func TestLoggerWithTrace(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	t.Run("no span", func(t *testing.T) {
		buf.Reset()
		LoggerWithTrace(context.Background(), base).Info("plain")
		assert.NotContains(t, buf.String(), "trace_id")
	})

	t.Run("nil logger", func(t *testing.T) {
		assert.NotNil(t, LoggerWithTrace(context.Background(), nil))
	})

	t.Run("valid span", func(t *testing.T) {
		buf.Reset()
		traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
		spanID, _ := trace.SpanIDFromHex("0102030405060708")
		sc := trace.NewSpanContext(trace.SpanContextConfig{
			TraceID:    traceID,
			SpanID:     spanID,
			TraceFlags: trace.FlagsSampled,
		})
		ctx := trace.ContextWithSpanContext(context.Background(), sc)

		LoggerWithStage(ctx, base, "Trace").Info("stage completed")
		out := buf.String()
		assert.Contains(t, out, `"trace_id":"0102030405060708090a0b0c0d0e0f10"`)
		assert.Contains(t, out, `"span_id":"0102030405060708"`)
		assert.Contains(t, out, `"stage":"Trace"`)

		buf.Reset()
		LoggerWithRun(ctx, base, "run-1").Info("weave started")
		assert.Contains(t, buf.String(), `"run_id":"run-1"`)
	})
}
