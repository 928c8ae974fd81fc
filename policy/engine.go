// Package policy decides whether a run may proceed, must pause for
// approval, or must be rejected, based on a team's policy document.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Engine evaluates the hard-denial rules (allowlist, residency) through OPA.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine compiles the rego module and prepares the deny query.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.run_policy.deny"),
		rego.Module("run_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Deny evaluates the policy against the input and returns machine-readable
// denial reasons. An empty result means no hard rule fired.
func (e *Engine) Deny(ctx context.Context, input any) ([]string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	var reasons []string
	for _, result := range results {
		for _, expr := range result.Expressions {
			values, ok := expr.Value.([]any)
			if !ok {
				continue
			}
			for _, v := range values {
				if s, ok := v.(string); ok {
					reasons = append(reasons, s)
				}
			}
		}
	}
	return reasons, nil
}

// DefaultPolicy encodes the hard denials every deployment starts from: a
// tool outside the team allowlist, a tool whose required scopes fall
// outside the team's scope allowlist, and a cross-region tool under a
// residency restriction. An empty scope allowlist leaves scopes
// unrestricted.
const DefaultPolicy = `
package run_policy

import rego.v1

deny contains "tool_not_allowed" if {
	some t in input.tools
	not t.name in input.policy.allowed_tools
}

deny contains "scope_not_allowed" if {
	count(input.policy.allowed_scopes) > 0
	some t in input.tools
	some s in t.scopes
	not s in input.policy.allowed_scopes
}

deny contains "residency_blocked" if {
	not input.policy.allow_cross_region
	input.policy.region != ""
	some t in input.tools
	t.region != ""
	t.region != input.policy.region
}
`
