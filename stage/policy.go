package stage

import (
	"context"

	"github.com/conductor-ai/conductor/domain"
	"github.com/conductor-ai/conductor/graph"
)

// policyNode routes the run through the guard and records the decision.
// A denial stores the machine-readable reason for the fallback stage; a
// forced plan flips the run's mode before confirmation.
func (d Deps) policyNode(ctx context.Context, state *domain.RunState) (graph.Outcome, error) {
	decision := d.Guard.Route(ctx, state, d.Policy)

	d.emit(ctx, state, domain.EventTypePolicyDecision, map[string]any{
		"next":       decision.Next,
		"reason":     decision.Reason,
		"force_plan": decision.ForcePlan,
	})

	delta := domain.Delta{}
	if decision.Reason != "" {
		scratch := state.Scratch
		scratch.FallbackReason = decision.Reason
		delta.Scratch = &scratch
	}
	if decision.ForcePlan && state.Mode != domain.ModePlan {
		mode := domain.ModePlan
		delta.Mode = &mode
	}
	return graph.Continue(delta), nil
}
