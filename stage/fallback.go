package stage

import (
	"context"

	"github.com/conductor-ai/conductor/domain"
	"github.com/conductor-ai/conductor/graph"
	"github.com/conductor-ai/conductor/policy"
)

// fallbackMessages maps machine-readable denial reasons to the short human
// explanation a caller can show directly.
var fallbackMessages = map[string]string{
	policy.ReasonToolNotAllowed:    "This request needs a tool your team policy does not allow.",
	policy.ReasonScopeNotAllowed:   "This request needs a permission scope your team policy does not grant.",
	policy.ReasonResidencyBlocked:  "This request would move data across regions, which your team policy blocks.",
	policy.ReasonBudgetExceeded:    "This plan exceeds your team's budget for automated actions.",
	policy.ReasonQuietHoursBlocked: "Your team's quiet hours are in effect; this request cannot run right now.",
	policy.ReasonQuietHoursDefer:   "Your team's quiet hours are in effect; schedule this for later or request an approval.",
	policy.ReasonPolicyError:       "Your team policy could not be evaluated, so nothing was run.",
}

// fallbackNode turns a denial reason into the run's final output. Nothing
// has executed by the time a run lands here.
func (d Deps) fallbackNode(ctx context.Context, state *domain.RunState) (graph.Outcome, error) {
	reason := state.Scratch.FallbackReason
	msg, ok := fallbackMessages[reason]
	if !ok {
		msg = "This request was declined by your team policy."
	}

	output := state.Output
	output.Summary = msg
	output.Context = reason
	return graph.Continue(domain.Delta{Output: &output}), nil
}
