package domain

import "time"

// PlanStep is one planned tool invocation. Steps are produced by the
// planning stage; ids are unique within a plan and dependsOn references
// earlier steps only.
type PlanStep struct {
	ID                string         `json:"id"`
	Tool              string         `json:"tool"`
	Args              map[string]any `json:"args"`
	Risk              Risk           `json:"risk"`
	DependsOn         []string       `json:"depends_on,omitempty"`
	IdempotencyKey    string         `json:"idempotency_key,omitempty"`
	CostEstimateCents int            `json:"cost_estimate_cents,omitempty"`
}

// Commit records one executed (or deliberately skipped) plan step.
type Commit struct {
	StepID      string         `json:"step_id"`
	Tool        string         `json:"tool"`
	Args        map[string]any `json:"args,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
	HasOutput   bool           `json:"has_output"`
	Skipped     bool           `json:"skipped,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	CommittedAt time.Time      `json:"committed_at"`
}

// UndoAction is a recorded compensating call, derived from a tool's undo
// function. It is never executed by the engine, only handed back for a
// separate undo flow.
type UndoAction struct {
	StepID string         `json:"step_id"`
	Tool   string         `json:"tool"`
	Args   map[string]any `json:"args"`
}

// EstimatedPlanCostCents sums the declared cost estimates of a plan.
func EstimatedPlanCostCents(plan []PlanStep) int {
	total := 0
	for _, step := range plan {
		total += step.CostEstimateCents
	}
	return total
}
