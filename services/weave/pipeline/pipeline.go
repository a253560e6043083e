// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline orders aspect layers into stages and runs them.
//
// A run evaluates each aspect class when its default layer comes up,
// feeding each instance the snapshot left by the stages before it, and
// applies the advice of each layer when that layer's stage runs.
// Diagnostics never stop a run; only a fatal aspect failure, a
// collaborator failure, or an ordering cycle does, and those return the
// original program unchanged.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianWeave/services/weave/advice"
	"github.com/AleutianAI/AleutianWeave/services/weave/aspect"
	"github.com/AleutianAI/AleutianWeave/services/weave/dag"
	"github.com/AleutianAI/AleutianWeave/services/weave/declgraph"
	"github.com/AleutianAI/AleutianWeave/services/weave/diag"
	"github.com/AleutianAI/AleutianWeave/services/weave/fault"
	"github.com/AleutianAI/AleutianWeave/services/weave/linker"
	"github.com/AleutianAI/AleutianWeave/services/weave/source"
	"github.com/AleutianAI/AleutianWeave/services/weave/telemetry"
	"github.com/AleutianAI/AleutianWeave/services/weave/transform"
)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithOrdering sets the ordering declaration.
func WithOrdering(o Ordering) Option {
	return func(p *Pipeline) { p.ordering = o }
}

// WithMaxParallelism bounds concurrent aspect evaluations per class.
// Values below 1 are ignored.
func WithMaxParallelism(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxParallelism = n
		}
	}
}

// WithStageTimeout bounds each stage. Zero means no bound.
func WithStageTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.stageTimeout = d }
}

// WithSources replaces the default instance sources. The reactive source
// of the run is always added.
func WithSources(sources ...source.Source) Option {
	return func(p *Pipeline) { p.sources = sources }
}

// WithCollaborator registers a collaborator under its name.
func WithCollaborator(c Collaborator) Option {
	return func(p *Pipeline) { p.collaborators[c.Name()] = c }
}

// WithLinking links the final snapshot into a Program after the last
// stage.
func WithLinking(inline bool) Option {
	return func(p *Pipeline) {
		p.link = true
		p.inline = inline
	}
}

// WithEngine replaces the advice engine.
func WithEngine(e *transform.Engine) Option {
	return func(p *Pipeline) {
		if e != nil {
			p.engine = e
		}
	}
}

// Pipeline runs registered aspects over programs.
//
// Thread Safety:
//
//	Safe for concurrent Run calls. Each run keeps its own state.
type Pipeline struct {
	registry       *aspect.Registry
	logger         *slog.Logger
	engine         *transform.Engine
	ordering       Ordering
	sources        []source.Source
	collaborators  map[string]Collaborator
	maxParallelism int
	stageTimeout   time.Duration
	link           bool
	inline         bool
}

// New creates a pipeline over a registry.
//
// Inputs:
//
//	reg - The aspect registry. Must not be nil.
//	opts - Options.
//
// Outputs:
//
//	*Pipeline - The pipeline.
//	error - ErrNilRegistry.
func New(reg *aspect.Registry, opts ...Option) (*Pipeline, error) {
	if reg == nil {
		return nil, ErrNilRegistry
	}
	p := &Pipeline{
		registry:       reg,
		logger:         slog.Default(),
		sources:        source.Defaults(),
		collaborators:  make(map[string]Collaborator),
		maxParallelism: runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.engine == nil {
		p.engine = transform.NewEngine(p.logger)
	}
	return p, nil
}

// StageReport summarizes one stage of a run.
type StageReport struct {
	Name            string        `json:"name"`
	Kind            string        `json:"kind"`
	Instances       int           `json:"instances"`
	Advices         int           `json:"advices"`
	Transformations int           `json:"transformations"`
	Discarded       int           `json:"discarded"`
	Diagnostics     int           `json:"diagnostics"`
	Duration        time.Duration `json:"duration"`
}

// Result is the outcome of a run.
type Result struct {
	RunID string

	// Snapshot is the final snapshot, or the original program wrapped as
	// generation 0 when the run was aborted.
	Snapshot *transform.Snapshot

	// Program is the linked program, when linking is enabled and the run
	// was not aborted.
	Program *linker.Program

	Diagnostics []diag.Diagnostic
	Stages      []StageReport

	// Fatal is true when the run was aborted. Diagnostics then holds the
	// single diagnostic that caused it.
	Fatal bool
}

// Plan returns the plan the pipeline would run.
func (p *Pipeline) Plan() (*Plan, error) {
	return BuildPlan(p.registry, p.ordering)
}

// runState is the mutable state of one run. Stages run sequentially.
type runState struct {
	reactive  *source.ReactiveSource
	evaluated map[string]bool
	pending   map[string][]advice.Advice
	diags     []diag.Diagnostic
	stages    []StageReport

	// failed holds instances with a rejected advice. Their edits from
	// earlier layers are removed and their later advice dropped.
	failed map[*aspect.Instance]bool
}

// failedBy reports whether t came from a failed instance.
func (st *runState) failedBy(t transform.Transformation) bool {
	adv := t.Provenance().Advice
	return adv != nil && st.failed[adv.Common().Instance]
}

// Run weaves every registered aspect into a program.
//
// Description:
//
//	Builds the plan, then runs one stage per advice layer and one per
//	collaborator group. A class is evaluated when its default layer's
//	stage runs, against the snapshot produced by all earlier stages; the
//	advice it emits for later layers wait for those layers' stages.
//	Instances of one class are evaluated concurrently and their results
//	consumed in instance order, so runs are deterministic.
//
// Inputs:
//
//	ctx - Cancels the run. Must not be nil.
//	program - The input program.
//
// Outputs:
//
//	*Result - The run result. Non-nil whenever error is nil.
//	error - Context errors, stage timeouts (*StageError), and invalid
//	        input. Diagnostics are not errors.
//
// Thread Safety: Safe for concurrent use.
func (p *Pipeline) Run(ctx context.Context, program declgraph.View) (*Result, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if program == nil {
		return nil, ErrNilView
	}

	runID := uuid.NewString()[:12]
	ctx, span := tracer.Start(ctx, "pipeline.Run",
		trace.WithAttributes(
			attribute.String("weave.run_id", runID),
			attribute.Int("weave.classes", p.registry.Len()),
		),
	)
	defer span.End()
	logger := telemetry.LoggerWithRun(ctx, p.logger, runID)

	original := transform.NewSnapshot(program)
	result := &Result{RunID: runID, Snapshot: original}

	plan, err := p.Plan()
	if err != nil {
		var cycle *dag.CycleError
		if errors.As(err, &cycle) {
			d := diag.OrderingCycle.New(diag.Location{}, cycle.Error())
			result.Diagnostics = []diag.Diagnostic{d}
			result.Fatal = true
			p.record(result, "cycle")
			span.SetStatus(codes.Error, "ordering cycle")
			logger.Warn("weave aborted", slog.String("reason", "ordering cycle"), slog.String("cycle", cycle.Error()))
			return result, nil
		}
		span.RecordError(err)
		return nil, err
	}

	st := &runState{
		reactive:  source.NewReactiveSource(),
		evaluated: make(map[string]bool),
		pending:   make(map[string][]advice.Advice),
		diags:     append([]diag.Diagnostic(nil), plan.Diagnostics...),
		failed:    make(map[*aspect.Instance]bool),
	}

	b := dag.NewBuilder("weave-run")
	var prev string
	for _, stage := range plan.Stages {
		stage := stage
		var deps []string
		if prev != "" {
			deps = []string{prev}
		}
		node := dag.NewFuncNode(stage.Name, deps, func(ctx context.Context, inputs map[string]any) (any, error) {
			snap, _ := inputs[dag.InputPrevious].(*transform.Snapshot)
			return p.runStage(ctx, logger, st, stage, snap)
		})
		if p.stageTimeout > 0 {
			node = node.WithTimeout(p.stageTimeout)
		}
		b.AddNode(node)
		prev = stage.Name
	}
	d, err := b.Build()
	if err != nil {
		return nil, err
	}
	ex, err := dag.NewExecutor(d, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("weave started",
		slog.Int("stages", len(plan.Stages)),
		slog.Int("classes", p.registry.Len()),
	)

	res, err := ex.Run(ctx, original)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			p.record(result, "canceled")
			span.RecordError(ctxErr)
			return nil, ctxErr
		}
		var fe *fatalError
		if errors.As(err, &fe) {
			result.Diagnostics = []diag.Diagnostic{fe.diagnostic}
			result.Stages = st.stages
			result.Fatal = true
			p.record(result, "fatal")
			span.SetStatus(codes.Error, "fatal")
			logger.Warn("weave aborted", slog.String("reason", fe.diagnostic.String()))
			return result, nil
		}
		p.record(result, "error")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		var nodeErr *dag.NodeError
		if errors.As(err, &nodeErr) {
			return nil, &StageError{Stage: nodeErr.NodeName, Err: nodeErr.Err}
		}
		return nil, err
	}

	if final, ok := res.Output.(*transform.Snapshot); ok && final != nil {
		result.Snapshot = final
	}
	result.Stages = st.stages
	result.Diagnostics = st.diags

	if p.link {
		prog, lds := linker.Link(result.Snapshot, linker.Options{Inline: p.inline})
		result.Program = prog
		result.Diagnostics = append(result.Diagnostics, lds...)
	}

	outcome := "success"
	if len(result.Diagnostics) > 0 {
		outcome = "diagnostics"
	}
	p.record(result, outcome)
	span.SetStatus(codes.Ok, "")
	logger.Info("weave completed",
		slog.Int("generation", result.Snapshot.Generation()),
		slog.Int("diagnostics", len(result.Diagnostics)),
		slog.Duration("duration", res.Duration),
	)
	return result, nil
}

func (p *Pipeline) record(result *Result, outcome string) {
	runsTotal.WithLabelValues(outcome).Inc()
	for _, d := range result.Diagnostics {
		diagnosticsTotal.WithLabelValues(d.Severity.String(), d.Code).Inc()
	}
}

// runStage runs one stage and returns the snapshot it produced.
func (p *Pipeline) runStage(ctx context.Context, logger *slog.Logger, st *runState, stage Stage, snap *transform.Snapshot) (*transform.Snapshot, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "pipeline.Stage",
		trace.WithAttributes(
			attribute.String("weave.stage", stage.Name),
			attribute.String("weave.stage_kind", stage.Kind.String()),
		),
	)
	defer span.End()
	logger = telemetry.LoggerWithStage(ctx, logger, stage.Name)

	report := StageReport{Name: stage.Name, Kind: stage.Kind.String()}
	before := len(st.diags)

	var (
		next *transform.Snapshot
		err  error
	)
	switch stage.Kind {
	case StageCollaborator:
		next, err = p.runCollaborator(ctx, st, stage, snap, &report)
	default:
		next, err = p.runAdvice(ctx, logger, st, stage, snap, &report)
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	report.Duration = time.Since(start)
	report.Diagnostics = len(st.diags) - before
	st.stages = append(st.stages, report)
	stageDuration.WithLabelValues(report.Kind).Observe(report.Duration.Seconds())

	logger.Debug("stage completed",
		slog.Int("instances", report.Instances),
		slog.Int("transformations", report.Transformations),
		slog.Int("discarded", report.Discarded),
		slog.Int("diagnostics", report.Diagnostics),
	)
	return next, nil
}

func (p *Pipeline) runAdvice(ctx context.Context, logger *slog.Logger, st *runState, stage Stage, snap *transform.Snapshot, report *StageReport) (*transform.Snapshot, error) {
	layer := stage.Layers[0]
	if layer.IsDefault() {
		n, err := p.evaluateClass(ctx, st, layer.Class, snap)
		if err != nil {
			return nil, err
		}
		report.Instances = n
	}

	id := layer.ID().String()
	advices, dropped := st.live(st.pending[id])
	delete(st.pending, id)
	report.Advices = len(advices)
	report.Discarded = dropped
	if len(advices) == 0 {
		return snap, nil
	}

	out, err := p.engine.Apply(ctx, snap, stage.Name, advices)
	if err != nil {
		return nil, err
	}
	st.diags = append(st.diags, out.Diagnostics...)
	report.Transformations = len(out.Transformations)
	report.Discarded += out.Discarded
	if len(out.Failed) > 0 {
		for _, inst := range out.Failed {
			st.failed[inst] = true
		}
		snap = snap.Without(st.failedBy)
	}
	for _, t := range out.Transformations {
		transformationsTotal.WithLabelValues(t.Kind().String()).Inc()
	}
	if len(out.Transformations) == 0 {
		return snap, nil
	}
	logger.Debug("layer applied",
		slog.String("layer", id),
		slog.Int("advices", len(advices)),
	)
	return snap.Fold(stage.Name, out.Transformations), nil
}

// live drops the advice of failed instances and returns how many
// instances were dropped.
func (st *runState) live(advices []advice.Advice) ([]advice.Advice, int) {
	out := make([]advice.Advice, 0, len(advices))
	dropped := make(map[*aspect.Instance]bool)
	for _, a := range advices {
		inst := a.Common().Instance
		if st.failed[inst] {
			dropped[inst] = true
			continue
		}
		out = append(out, a)
	}
	return out, len(dropped)
}

// evaluateClass merges and evaluates every instance of a class, queues
// its advice by layer, and records its requests.
func (p *Pipeline) evaluateClass(ctx context.Context, st *runState, class *aspect.Class, snap *transform.Snapshot) (int, error) {
	sources := append(append([]source.Source(nil), p.sources...), st.reactive)
	instances, mds, err := source.Merge(ctx, snap, class, sources...)
	if err != nil {
		return 0, err
	}
	st.diags = append(st.diags, mds...)
	st.evaluated[class.Name()] = true

	results := make([]EvaluationResult, len(instances))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxParallelism)
	for i, inst := range instances {
		g.Go(func() error {
			res, err := Evaluate(gctx, snap, inst)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		return 0, err
	}

	for _, res := range results {
		label := res.Outcome.String()
		if res.Skipped {
			label = "skipped"
		}
		instancesTotal.WithLabelValues(label).Inc()

		if res.Outcome == OutcomeFatal {
			return 0, &fatalError{diagnostic: res.fatalDiagnostic()}
		}
		st.diags = append(st.diags, res.Diagnostics...)
		if res.Outcome != OutcomeSucceeded {
			continue
		}
		for _, a := range res.Advices {
			adviceTotal.WithLabelValues(a.Kind().String()).Inc()
			id := a.Common().Layer.ID().String()
			st.pending[id] = append(st.pending[id], a)
		}
		p.acceptRequests(st, res)
	}
	return len(instances), nil
}

func (p *Pipeline) acceptRequests(st *runState, res EvaluationResult) {
	for _, r := range res.Requests {
		if r.Target == nil {
			continue
		}
		loc := res.Instance.Location()
		if _, ok := p.registry.Class(r.Class); !ok {
			st.diags = append(st.diags, diag.UnknownAspectClass.New(loc, res.Instance.Class.Name(), r.Class, r.Target.ID))
			continue
		}
		if st.evaluated[r.Class] {
			st.diags = append(st.diags, diag.CannotAddAspectToPreviousStep.New(loc,
				res.Instance.Class.Name(), r.Class, r.Target.ID, r.Class))
			continue
		}
		if r.Requestor == nil {
			r.Requestor = res.Instance
		}
		st.reactive.Add(r)
	}
}

func (p *Pipeline) runCollaborator(ctx context.Context, st *runState, stage Stage, snap *transform.Snapshot, report *StageReport) (*transform.Snapshot, error) {
	c, ok := p.collaborators[stage.Collaborator]
	if !ok {
		return nil, &fatalError{diagnostic: diag.CollaboratorFailed.New(diag.Location{}, stage.Collaborator, ErrUnknownCollaborator)}
	}

	in := CollaboratorInput{Snapshot: snap, Layers: stage.LayerIDs()}
	for _, l := range stage.Layers {
		if !l.IsDefault() {
			continue
		}
		insts, mds, err := source.Merge(ctx, snap, l.Class, append(append([]source.Source(nil), p.sources...), st.reactive)...)
		if err != nil {
			return nil, err
		}
		st.diags = append(st.diags, mds...)
		st.evaluated[l.Class.Name()] = true
		in.Instances = append(in.Instances, insts...)
	}
	report.Instances = len(in.Instances)

	var (
		out  CollaboratorOutput
		next *transform.Snapshot
	)
	err := fault.Capture(func() error {
		var err error
		out, err = c.Execute(ctx, in)
		if err != nil {
			return err
		}
		next = snap
		if len(out.Transformations) > 0 {
			first := stage.Layers[0]
			transform.Stamp(out.Transformations, first.Class.Name(), first.ID(), snap.Generation()+1)
			next = snap.Fold(stage.Name, out.Transformations)
		}
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, ctxErr
		}
		return nil, &fatalError{diagnostic: diag.CollaboratorFailed.New(diag.Location{}, c.Name(), collaboratorCause(err))}
	}

	st.diags = append(st.diags, out.Diagnostics...)
	report.Transformations = len(out.Transformations)
	return next, nil
}

func collaboratorCause(err error) error {
	if pe, ok := fault.AsPanic(err); ok {
		return fmt.Errorf("%s: %v", pe.Kind(), pe.Value)
	}
	return err
}
