package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer(instrumentationName)

// Orchestrator runs Filter, then Semantic, then Score.
type Orchestrator struct {
	filter   Stage
	semantic Stage // optional
	score    Stage
	metrics  *Metrics
}

// NewOrchestrator sequences the given stages. semantic may be nil.
func NewOrchestrator(filter, semantic, score Stage, metrics *Metrics) *Orchestrator {
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Orchestrator{filter: filter, semantic: semantic, score: score, metrics: metrics}
}

// Metrics returns the orchestrator's metrics tracker.
func (o *Orchestrator) Metrics() *Metrics {
	return o.metrics
}

// Run executes the pipeline for req and returns the completed context.
// Stage failures are returned; semantic degradation is not a failure.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Context, error) {
	start := time.Now()
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	pc := NewContext(req)
	ctx, span := tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("request_id", pc.RequestID),
		attribute.String("intent", string(req.Intent)),
		attribute.Int("limit", req.Limit),
	))
	defer span.End()

	err := o.runStages(ctx, pc)
	o.metrics.RecordQuery(ctx, pc.Diagnostics, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error().Err(err).Str("request_id", pc.RequestID).Msg("Retrieval pipeline failed")
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("candidates", pc.Diagnostics.CandidateCount),
		attribute.Int("results", len(pc.Results)),
		attribute.String("fusion", pc.Diagnostics.Fusion),
	)
	return pc, nil
}

func (o *Orchestrator) runStages(ctx context.Context, pc *Context) error {
	stages := []Stage{o.filter}
	if o.semantic != nil {
		stages = append(stages, o.semantic)
	}
	stages = append(stages, o.score)

	for _, stage := range stages {
		if err := o.runStage(ctx, stage, pc); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) runStage(ctx context.Context, stage Stage, pc *Context) error {
	if err := checkPrerequisites(stage, pc); err != nil {
		return err
	}
	switch err := ctx.Err(); {
	case err == nil, stage.Name() == StageSemantic:
	case stage.Name() == StageScore && errors.Is(err, context.DeadlineExceeded) && pc.HasCompleted(StageFilter):
		// Scoring is CPU-bound; finish the request with whatever signals
		// arrived before the deadline.
		log.Warn().Str("request_id", pc.RequestID).Msg("Deadline reached before scoring, continuing without it")
		ctx = context.WithoutCancel(ctx)
	default:
		return fmt.Errorf("%s stage: %w", stage.Name(), err)
	}

	ctx, span := tracer.Start(ctx, "pipeline."+stage.Name())
	defer span.End()

	start := time.Now()
	err := stage.Run(ctx, pc)
	elapsed := time.Since(start)

	pc.Diagnostics.StageDurations[stage.Name()] = elapsed
	o.metrics.RecordStage(ctx, stage.Name(), elapsed)

	span.SetAttributes(attribute.Bool("completed", pc.HasCompleted(stage.Name())))
	if pc.Diagnostics.SemanticSkipped != "" && stage.Name() == StageSemantic {
		span.SetAttributes(attribute.String("skipped", pc.Diagnostics.SemanticSkipped))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}
