// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/google/uuid"
)

var (
	tracer = otel.Tracer("aleutian.weave.dag")
	meter  = otel.Meter("aleutian.weave.dag")
)

// Result summarizes one execution.
type Result struct {
	SessionID     string
	Success       bool
	Output        any
	Duration      time.Duration
	NodesExecuted int
	NodeDurations map[string]time.Duration
	FailedNode    string
	Error         string
}

// Executor runs a DAG node by node in its topological order.
//
// Description:
//
//	Nodes run one at a time. Each receives its dependencies' outputs and
//	the output of the node run before it. Execution stops at the first
//	node error or when ctx is done.
//
// Thread Safety:
//
//	Safe for concurrent use. Each Run keeps its own state.
type Executor struct {
	dag    *DAG
	logger *slog.Logger

	metricsOnce     sync.Once
	nodeLatency     metric.Float64Histogram
	nodeSuccesses   metric.Int64Counter
	nodeFailures    metric.Int64Counter
	pipelineLatency metric.Float64Histogram
}

// NewExecutor creates an executor.
//
// Inputs:
//
//	dag - The DAG to execute. Must not be nil.
//	logger - Logger for execution logs. If nil, uses slog.Default().
//
// Outputs:
//
//	*Executor - The configured executor.
//	error - ErrInvalidInput if dag is nil.
func NewExecutor(dag *DAG, logger *slog.Logger) (*Executor, error) {
	if dag == nil {
		return nil, ErrInvalidInput
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{dag: dag, logger: logger}, nil
}

// initMetrics lazily initializes metrics. Failures are logged and the
// affected instrument stays nil.
func (e *Executor) initMetrics() {
	e.metricsOnce.Do(func() {
		var initErrors []string
		var err error

		e.nodeLatency, err = meter.Float64Histogram("weave_dag_node_duration_seconds",
			metric.WithDescription("Time spent executing each DAG node"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "node_latency: "+err.Error())
		}

		e.nodeSuccesses, err = meter.Int64Counter("weave_dag_node_success_total",
			metric.WithDescription("Number of successful node executions"),
		)
		if err != nil {
			initErrors = append(initErrors, "node_successes: "+err.Error())
		}

		e.nodeFailures, err = meter.Int64Counter("weave_dag_node_failure_total",
			metric.WithDescription("Number of failed node executions"),
		)
		if err != nil {
			initErrors = append(initErrors, "node_failures: "+err.Error())
		}

		e.pipelineLatency, err = meter.Float64Histogram("weave_dag_pipeline_duration_seconds",
			metric.WithDescription("Total DAG execution time"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "pipeline_latency: "+err.Error())
		}

		if len(initErrors) > 0 {
			e.logger.Error("failed to initialize some DAG metrics (observability degraded)",
				slog.Int("failed_count", len(initErrors)),
				slog.Any("errors", initErrors),
			)
		}
	})
}

// Run executes every node in order.
//
// Inputs:
//
//	ctx - Context for cancellation. Checked before each node.
//	input - Passed to the first node under InputPrevious.
//
// Outputs:
//
//	*Result - Always non-nil. Output is the last node's output.
//	error - ctx.Err() on cancellation, or a *NodeError for the failing node.
func (e *Executor) Run(ctx context.Context, input any) (*Result, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	e.initMetrics()

	ctx, span := tracer.Start(ctx, "dag.Run",
		trace.WithAttributes(
			attribute.String("dag.name", e.dag.Name()),
			attribute.Int("dag.node_count", e.dag.NodeCount()),
		),
	)
	defer span.End()

	start := time.Now()
	result := &Result{
		SessionID:     uuid.NewString()[:12],
		NodeDurations: make(map[string]time.Duration, e.dag.NodeCount()),
	}

	e.logger.Debug("dag started",
		slog.String("dag", e.dag.Name()),
		slog.String("session_id", result.SessionID),
		slog.Int("nodes", e.dag.NodeCount()),
	)

	outputs := make(map[string]any, e.dag.NodeCount())
	previous := input
	for _, name := range e.dag.order {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "context canceled")
			return e.finish(result, start, err), err
		}

		node := e.dag.nodes[name]
		inputs := make(map[string]any, len(e.dag.deps[name])+1)
		for _, dep := range e.dag.deps[name] {
			inputs[dep] = outputs[dep]
		}
		inputs[InputPrevious] = previous

		nodeStart := time.Now()
		output, err := e.executeNode(ctx, node, result.SessionID, inputs)
		result.NodeDurations[name] = time.Since(nodeStart)
		if err != nil {
			result.FailedNode = name
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return e.finish(result, start, err), err
		}

		outputs[name] = output
		previous = output
		result.NodesExecuted++
	}

	result.Output = previous
	result.Success = true
	span.SetStatus(codes.Ok, "")
	e.finish(result, start, nil)

	e.logger.Debug("dag completed",
		slog.String("session_id", result.SessionID),
		slog.Duration("duration", result.Duration),
		slog.Int("nodes_executed", result.NodesExecuted),
	)
	return result, nil
}

func (e *Executor) finish(result *Result, start time.Time, err error) *Result {
	result.Duration = time.Since(start)
	if err != nil {
		result.Error = err.Error()
	}
	if e.pipelineLatency != nil {
		e.pipelineLatency.Record(context.Background(), result.Duration.Seconds(),
			metric.WithAttributes(attribute.String("dag", e.dag.Name())),
		)
	}
	return result
}

// executeNode runs one node inside its own span and timeout.
func (e *Executor) executeNode(ctx context.Context, node Node, sessionID string, inputs map[string]any) (any, error) {
	ctx, span := tracer.Start(ctx, node.Name(),
		trace.WithAttributes(
			attribute.String("dag.node", node.Name()),
			attribute.String("dag.session_id", sessionID),
		),
	)
	defer span.End()

	nodeCtx := ctx
	if timeout := node.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		nodeCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	output, err := node.Execute(nodeCtx, inputs)
	duration := time.Since(start)

	if e.nodeLatency != nil {
		e.nodeLatency.Record(ctx, duration.Seconds(),
			metric.WithAttributes(attribute.String("node", node.Name())),
		)
	}

	if err != nil {
		if ctx.Err() == nil && errors.Is(nodeCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %s: %w", ErrNodeTimeout, node.Name(), err)
		}
		if e.nodeFailures != nil {
			e.nodeFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("node", node.Name())))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Debug("node failed",
			slog.String("node", node.Name()),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()),
		)
		return nil, NewNodeError(node.Name(), err)
	}

	if e.nodeSuccesses != nil {
		e.nodeSuccesses.Add(ctx, 1, metric.WithAttributes(attribute.String("node", node.Name())))
	}
	span.SetStatus(codes.Ok, "")
	return output, nil
}
