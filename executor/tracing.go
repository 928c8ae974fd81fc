// Tracing instrumentation for the step executor.
package executor

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/conductor-ai/conductor/domain"
)

func tracer() trace.Tracer {
	return otel.Tracer("conductor/executor")
}

// startPlanSpan starts a span covering the whole plan execution.
func (e *Executor) startPlanSpan(ctx context.Context, state *domain.RunState) (context.Context, trace.Span) {
	ctx, span := tracer().Start(ctx, "plan.execute")
	span.SetAttributes(
		attribute.String("run.id", state.Ctx.RunID),
		attribute.Int("plan.steps", len(state.Scratch.Plan)),
	)
	return ctx, span
}

// endPlanSpan ends the plan span with commit counts and any failure.
func (e *Executor) endPlanSpan(span trace.Span, commits int, err error) {
	span.SetAttributes(attribute.Int("plan.commits", commits))
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}

// startStepSpan starts a span for one plan step.
func (e *Executor) startStepSpan(ctx context.Context, step domain.PlanStep) (context.Context, trace.Span) {
	ctx, span := tracer().Start(ctx, "step."+step.ID)
	span.SetAttributes(
		attribute.String("step.id", step.ID),
		attribute.String("step.tool", step.Tool),
		attribute.String("step.risk", string(step.Risk)),
	)
	return ctx, span
}

// endStepSpan ends the step span with its outcome.
func (e *Executor) endStepSpan(span trace.Span, status string, err error) {
	span.SetAttributes(attribute.String("step.status", status))
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}
