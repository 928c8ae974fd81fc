package stage

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/conductor-ai/conductor/domain"
	"github.com/conductor-ai/conductor/graph"
)

// confirmNode gates execution on the human side of the run. Three
// outcomes: pause for missing required inputs, pause for a pending
// approval, or continue into execution. The checks re-run on resume, so a
// run only proceeds once every gate clears.
func (d Deps) confirmNode(ctx context.Context, state *domain.RunState) (graph.Outcome, error) {
	if missing := missingQuestions(state); len(missing) > 0 {
		d.emit(ctx, state, domain.EventTypeAwaitingInput, map[string]any{
			"questions": questionKeys(missing),
		})
		sig := &domain.PauseSignal{
			Kind:      domain.PauseAwaitingInput,
			Context:   fmt.Sprintf("Missing required input: %s.", strings.Join(questionKeys(missing), ", ")),
			Questions: missing,
		}
		return graph.Pause(awaitingDelta(state, sig), sig), nil
	}

	if state.Mode == domain.ModePlan {
		if unconfirmed := unconfirmedSteps(state); len(unconfirmed) > 0 {
			d.emit(ctx, state, domain.EventTypeAwaitingInput, map[string]any{
				"steps": stepIDs(unconfirmed),
			})
			sig := &domain.PauseSignal{
				Kind:      domain.PauseAwaitingInput,
				Context:   planSummary(unconfirmed),
				Questions: []domain.Question{confirmQuestion(unconfirmed)},
			}
			return graph.Pause(awaitingDelta(state, sig), sig), nil
		}
	}

	if pending := d.Guard.PendingApprovals(state, d.Policy); len(pending) > 0 {
		approvalID := "ap_" + uuid.New().String()[:8]
		steps := make([]domain.PendingStep, len(pending))
		ids := make([]string, len(pending))
		for i, step := range pending {
			steps[i] = domain.PendingStep{
				StepID: step.ID,
				Tool:   step.Tool,
				Args:   redactArgs(step.Args),
				Risk:   step.Risk,
			}
			ids[i] = step.ID
		}
		d.emit(ctx, state, domain.EventTypeApprovalAwaiting, map[string]any{
			"approval_id": approvalID,
			"steps":       ids,
		})
		sig := &domain.PauseSignal{
			Kind:         domain.PauseAwaitingApproval,
			Context:      fmt.Sprintf("%d step(s) need approval before execution.", len(steps)),
			ApprovalID:   approvalID,
			PendingSteps: steps,
		}
		return graph.Pause(awaitingDelta(state, sig), sig), nil
	}

	return graph.Continue(clearAwaitingDelta(state)), nil
}

// awaitingDelta mirrors a pause signal onto scratch and output so a caller
// holding only the persisted state sees what the run is waiting for.
func awaitingDelta(state *domain.RunState, sig *domain.PauseSignal) domain.Delta {
	scratch := state.Scratch
	scratch.Awaiting = sig
	output := state.Output
	output.Questions = sig.Questions
	output.Context = sig.Context
	return domain.Delta{Scratch: &scratch, Output: &output}
}

// clearAwaitingDelta drops a consumed pause payload once every gate clears.
func clearAwaitingDelta(state *domain.RunState) domain.Delta {
	if state.Scratch.Awaiting == nil && len(state.Output.Questions) == 0 && state.Output.Context == "" {
		return domain.Delta{}
	}
	scratch := state.Scratch
	scratch.Awaiting = nil
	output := state.Output
	output.Questions = nil
	output.Context = ""
	return domain.Delta{Scratch: &scratch, Output: &output}
}

// missingQuestions returns the intent's required questions whose keys have
// no usable answer yet. Empty strings, nils and empty collections count as
// missing.
func missingQuestions(state *domain.RunState) []domain.Question {
	intent := state.Scratch.Intent
	if intent == nil {
		return nil
	}
	var missing []domain.Question
	for _, q := range intent.Required {
		if !q.Required {
			continue
		}
		if v, ok := state.Scratch.Answers[q.Key]; ok && hasValue(v) {
			continue
		}
		if v, ok := intent.Extracted[q.Key]; ok && hasValue(v) {
			continue
		}
		missing = append(missing, q)
	}
	return missing
}

func hasValue(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(val) != ""
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}

func unconfirmedSteps(state *domain.RunState) []domain.PlanStep {
	confirmed := make(map[string]bool, len(state.Ctx.Meta.ConfirmedSteps))
	for _, id := range state.Ctx.Meta.ConfirmedSteps {
		confirmed[id] = true
	}
	var out []domain.PlanStep
	for _, step := range state.Scratch.Plan {
		if !confirmed[step.ID] {
			out = append(out, step)
		}
	}
	return out
}

func confirmQuestion(steps []domain.PlanStep) domain.Question {
	return domain.Question{
		Key:      "confirm_plan",
		Question: fmt.Sprintf("Run these %d step(s)?", len(steps)),
		Type:     "confirm",
		Required: true,
		Options:  []string{"yes", "no"},
	}
}

func planSummary(steps []domain.PlanStep) string {
	var b strings.Builder
	for i, step := range steps {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s: %s", step.ID, step.Tool)
	}
	return b.String()
}

func questionKeys(questions []domain.Question) []string {
	keys := make([]string, len(questions))
	for i, q := range questions {
		keys[i] = q.Key
	}
	return keys
}

func stepIDs(steps []domain.PlanStep) []string {
	ids := make([]string, len(steps))
	for i, step := range steps {
		ids[i] = step.ID
	}
	return ids
}

func redactArgs(args map[string]any) map[string]any {
	if len(args) == 0 {
		return nil
	}
	out := make(map[string]any, len(args))
	for k := range args {
		out[k] = "[redacted]"
	}
	return out
}
