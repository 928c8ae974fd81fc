package policy

import (
	"context"
	"log"

	"github.com/conductor-ai/conductor/domain"
)

// Machine-readable denial reasons attached to run state when routing to
// fallback. The fallback stage maps them to user-facing messages.
const (
	ReasonToolNotAllowed    = "tool_not_allowed"
	ReasonScopeNotAllowed   = "scope_not_allowed"
	ReasonResidencyBlocked  = "residency_blocked"
	ReasonBudgetExceeded    = "budget_exceeded"
	ReasonQuietHoursBlocked = "quiet_hours_blocked"
	ReasonQuietHoursDefer   = "quiet_hours_deferred"
	ReasonPolicyError       = "policy_error"
)

// Stage ids the guard routes between.
const (
	StageConfirm  = "confirm"
	StageFallback = "fallback"
)

// ToolInfo is the slice of a tool contract the guard needs: its name, the
// data region it touches and the scopes it requires.
type ToolInfo struct {
	Name   string   `json:"name"`
	Region string   `json:"region"`
	Scopes []string `json:"scopes,omitempty"`
}

// ToolResolver looks up tool metadata by name. Unknown tools resolve to a
// bare ToolInfo so the allowlist rule still sees them.
type ToolResolver func(name string) (ToolInfo, bool)

// Decision is the outcome of routing a run against a team policy.
type Decision struct {
	Next      string
	Reason    string
	ForcePlan bool
}

// Guard evaluates a team's policy against a run: hard denials through the
// OPA engine, soft denials (quiet hours, budget) and mode/confidence
// routing natively.
type Guard struct {
	engine  *Engine
	resolve ToolResolver
}

// NewGuard builds a guard around a compiled engine and a tool resolver.
func NewGuard(engine *Engine, resolve ToolResolver) *Guard {
	return &Guard{engine: engine, resolve: resolve}
}

// Route decides the next stage for the run. Hard denials and budget and
// quiet-hours blocks route to fallback with a machine-readable reason;
// everything else proceeds to confirm, possibly forced into plan mode.
func (g *Guard) Route(ctx context.Context, state *domain.RunState, pol domain.TeamPolicy) Decision {
	tools := g.pendingTools(state)

	allowedScopes := pol.Allow.Scopes
	if allowedScopes == nil {
		allowedScopes = []string{}
	}
	reasons, err := g.engine.Deny(ctx, map[string]any{
		"tools": tools,
		"policy": map[string]any{
			"allowed_tools":      pol.Allow.Tools,
			"allowed_scopes":     allowedScopes,
			"region":             pol.Residency.Region,
			"allow_cross_region": pol.Residency.AllowCrossRegion,
		},
	})
	if err != nil {
		// A broken policy must never silently allow execution.
		log.Printf("ERROR: policy evaluation failed: %v", err)
		return Decision{Next: StageFallback, Reason: ReasonPolicyError}
	}
	if len(reasons) > 0 {
		return Decision{Next: StageFallback, Reason: reasons[0]}
	}

	if limit := budgetLimit(state.Ctx.BudgetCents, pol.Budget.LimitCents); limit > 0 {
		estimate := domain.EstimatedPlanCostCents(state.Scratch.Plan)
		if estimate > limit {
			return Decision{Next: StageFallback, Reason: ReasonBudgetExceeded}
		}
	}

	if window, inside := activeQuietWindow(pol.QuietHours, state.Ctx.LocalNow()); inside {
		switch window.Behavior {
		case domain.QuietHoursBlock:
			return Decision{Next: StageFallback, Reason: ReasonQuietHoursBlocked}
		case domain.QuietHoursDefer:
			return Decision{Next: StageFallback, Reason: ReasonQuietHoursDefer}
		default:
			// Quiet hours force interactive planning.
			return Decision{Next: StageConfirm, ForcePlan: true}
		}
	}

	if state.Mode == domain.ModePlan {
		return Decision{Next: StageConfirm, ForcePlan: true}
	}
	if intent := state.Scratch.Intent; intent != nil && intent.Confidence < pol.Risk.ConfidenceThreshold {
		// Low-confidence requests are never silently auto-executed.
		return Decision{Next: StageConfirm, ForcePlan: true}
	}

	return Decision{Next: StageConfirm}
}

// budgetLimit resolves the effective budget cap. A run may carry its own
// budget, but it can only tighten the team limit, never loosen it.
func budgetLimit(runCents, teamCents int) int {
	switch {
	case runCents <= 0:
		return teamCents
	case teamCents <= 0:
		return runCents
	case runCents < teamCents:
		return runCents
	default:
		return teamCents
	}
}

// NeedsApproval reports whether any pending step requires a human approval
// under the policy.
func (g *Guard) NeedsApproval(state *domain.RunState, pol domain.TeamPolicy) bool {
	return len(g.PendingApprovals(state, pol)) > 0
}

// PendingApprovals lists the plan steps that still require a human approval:
// a high-risk step with the approve-high-risk flag set, or a non-zero
// approver count for the step's tool, minus anything already approved.
func (g *Guard) PendingApprovals(state *domain.RunState, pol domain.TeamPolicy) []domain.PlanStep {
	var pending []domain.PlanStep
	for _, step := range state.Scratch.Plan {
		if state.Ctx.Meta.StepApproved(step.ID) {
			continue
		}
		if (step.Risk == domain.RiskHigh && pol.Risk.ApproveHighRisk) || pol.Reviewers.ApproversFor(step.Tool) > 0 {
			pending = append(pending, step)
		}
	}
	return pending
}

// pendingTools collects the tool descriptors the run intends to use, from
// the classified intent and the finalized plan.
func (g *Guard) pendingTools(state *domain.RunState) []ToolInfo {
	seen := make(map[string]bool)
	var tools []ToolInfo

	add := func(name string) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		if g.resolve != nil {
			if info, ok := g.resolve(name); ok {
				tools = append(tools, info)
				return
			}
		}
		tools = append(tools, ToolInfo{Name: name})
	}

	if intent := state.Scratch.Intent; intent != nil {
		for _, name := range intent.Tools {
			add(name)
		}
	}
	for _, step := range state.Scratch.Plan {
		add(step.Tool)
	}
	return tools
}
