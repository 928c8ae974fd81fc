// Package executor runs a finalized plan step by step: resolving argument
// references, expanding fan-out, gating on dependencies and approvals, and
// invoking tools through the registry or an offload queue.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/conductor-ai/conductor/domain"
	"github.com/conductor-ai/conductor/eventing"
	"github.com/conductor-ai/conductor/graph"
	"github.com/conductor-ai/conductor/queue"
	"github.com/conductor-ai/conductor/registry"
)

// ToolRespond is the zero-side-effect chat tool. It is validated leniently
// and its calls are not published as tool events.
const ToolRespond = "respond"

// Executor is the plan execution node. Construct with New; the zero value
// is not usable.
type Executor struct {
	registry *registry.Registry
	sink     eventing.Sink
	queue    queue.Submitter

	sleep func(ctx context.Context, d time.Duration) error
	rand  func() float64
	now   func() time.Time
}

// Options override the executor's clock, sleep and jitter source. Tests
// inject all three; production leaves them nil.
type Options struct {
	Sleep func(ctx context.Context, d time.Duration) error
	Rand  func() float64
	Now   func() time.Time
}

// New creates an executor. A nil submitter means tools are called in
// process through the registry.
func New(reg *registry.Registry, sink eventing.Sink, q queue.Submitter, opts Options) *Executor {
	e := &Executor{
		registry: reg,
		sink:     sink,
		queue:    q,
		sleep:    opts.Sleep,
		rand:     opts.Rand,
		now:      opts.Now,
	}
	if e.sleep == nil {
		e.sleep = defaultSleep
	}
	if e.rand == nil {
		e.rand = rand.Float64
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// ValidatePlan checks structural invariants before any step runs: unique
// step ids, and dependencies that point at strictly earlier steps. Order
// carries the topology, so a forward or self reference is a cycle.
func ValidatePlan(plan []domain.PlanStep) error {
	seen := make(map[string]int, len(plan))
	for i, step := range plan {
		if step.ID == "" {
			return fmt.Errorf("%w: step %d has no id", ErrPlanInvalid, i)
		}
		if step.Tool == "" {
			return fmt.Errorf("%w: step %s has no tool", ErrPlanInvalid, step.ID)
		}
		if _, dup := seen[step.ID]; dup {
			return fmt.Errorf("%w: duplicate step id %s", ErrPlanInvalid, step.ID)
		}
		seen[step.ID] = i
	}
	for i, step := range plan {
		for _, dep := range step.DependsOn {
			j, ok := seen[dep]
			if !ok {
				return fmt.Errorf("%w: step %s depends on unknown step %s", ErrPlanInvalid, step.ID, dep)
			}
			if j >= i {
				return fmt.Errorf("%w: step %s depends on %s which does not precede it", ErrPlanInvalid, step.ID, dep)
			}
		}
	}
	return nil
}

// Run executes the plan in order. It is a graph node: it pauses for
// approvals and otherwise returns the accumulated commits, undo actions and
// the expanded plan.
func (e *Executor) Run(ctx context.Context, state *domain.RunState) (graph.Outcome, error) {
	if err := ValidatePlan(state.Scratch.Plan); err != nil {
		return graph.Outcome{}, err
	}

	ctx, planSpan := e.startPlanSpan(ctx, state)

	results := make(map[string]map[string]any)
	hasOutput := make(map[string]bool)
	committed := make(map[string]bool)
	commits := append([]domain.Commit(nil), state.Output.Commits...)
	undo := append([]domain.UndoAction(nil), state.Output.Undo...)

	// Resuming a paused run: prior commits seed the result map so already
	// executed steps are skipped and their outputs stay addressable.
	for _, c := range commits {
		committed[c.StepID] = true
		hasOutput[c.StepID] = c.HasOutput
		if c.Result != nil {
			results[c.StepID] = c.Result
		}
	}

	res := &resolver{results: results, vars: boundVars(state.Scratch)}
	steps := append([]domain.PlanStep(nil), state.Scratch.Plan...)

	for i := 0; i < len(steps); i++ {
		step := steps[i]
		if committed[step.ID] {
			continue
		}

		if dep, blocked := blockedDependency(step, hasOutput); blocked {
			commits = append(commits, domain.Commit{
				StepID:      step.ID,
				Tool:        step.Tool,
				Skipped:     true,
				Reason:      domain.SkipReasonDependencyNoOutput,
				CommittedAt: e.now(),
			})
			committed[step.ID] = true
			hasOutput[step.ID] = false
			log.Printf("INFO: run %s step %s skipped: dependency %s has no output", state.Ctx.RunID, step.ID, dep)
			continue
		}

		ref, fan, err := detectFanOut(step.Args)
		if err != nil {
			e.endPlanSpan(planSpan, len(commits), err)
			return graph.Outcome{}, fmt.Errorf("step %s: %w", step.ID, err)
		}
		if fan {
			children, err := e.expandStep(res, step, ref)
			if err != nil {
				e.endPlanSpan(planSpan, len(commits), err)
				return graph.Outcome{}, err
			}
			steps = append(steps[:i], append(children, steps[i+1:]...)...)
			i--
			continue
		}

		resolved, err := res.resolveArgs(step.Args)
		if err != nil {
			e.endPlanSpan(planSpan, len(commits), err)
			return graph.Outcome{}, fmt.Errorf("step %s: %w", step.ID, err)
		}
		if leftover, found := firstUnresolved(resolved); found {
			err := fmt.Errorf("%w: step %s still references %q", ErrArgsUnresolved, step.ID, leftover)
			e.endPlanSpan(planSpan, len(commits), err)
			return graph.Outcome{}, err
		}

		tool, err := e.registry.Get(step.Tool)
		if err != nil {
			e.endPlanSpan(planSpan, len(commits), err)
			return graph.Outcome{}, fmt.Errorf("step %s: %w", step.ID, err)
		}
		validated, err := tool.InputSchema.Validate(resolved)
		if err != nil {
			if step.Tool != ToolRespond {
				e.endPlanSpan(planSpan, len(commits), err)
				return graph.Outcome{}, fmt.Errorf("step %s: %w", step.ID, err)
			}
			log.Printf("WARN: run %s step %s: respond args failed validation, proceeding: %v", state.Ctx.RunID, step.ID, err)
			validated = resolved
		}

		if step.Risk == domain.RiskHigh && !state.Ctx.Meta.StepApproved(step.ID) {
			signal := e.approvalSignal(ctx, state, steps[i:])
			delta := e.delta(state, steps, commits, undo)
			delta.Scratch.Awaiting = signal
			delta.Output.Context = signal.Context
			e.endPlanSpan(planSpan, len(commits), nil)
			return graph.Pause(delta, signal), nil
		}

		stepCtx, span := e.startStepSpan(ctx, step)
		e.emitToolEvent(stepCtx, state, domain.EventTypeToolCalled, step, nil, "")
		e.emitAssistantDelta(stepCtx, state, step, "started")

		result, err := e.invoke(stepCtx, state.Ctx, step, validated)
		if err != nil {
			e.emitToolEvent(stepCtx, state, domain.EventTypeToolFailed, step, nil, err.Error())
			e.endStepSpan(span, "failed", err)
			e.endPlanSpan(planSpan, len(commits), err)
			return graph.Outcome{}, fmt.Errorf("step %s: %w", step.ID, err)
		}

		out := len(result) > 0
		commits = append(commits, domain.Commit{
			StepID:      step.ID,
			Tool:        step.Tool,
			Args:        validated,
			Result:      result,
			HasOutput:   out,
			CommittedAt: e.now(),
		})
		committed[step.ID] = true
		hasOutput[step.ID] = out
		if out {
			results[step.ID] = result
		}

		if tool.Undo != nil && out {
			undoArgs, undoErr := tool.Undo(result, validated, state.Ctx)
			if undoErr != nil {
				log.Printf("WARN: run %s step %s: undo derivation failed: %v", state.Ctx.RunID, step.ID, undoErr)
			} else if undoArgs != nil {
				undo = append(undo, domain.UndoAction{StepID: step.ID, Tool: step.Tool, Args: undoArgs})
			}
		}

		e.emitToolEvent(stepCtx, state, domain.EventTypeToolSucceeded, step, result, "")
		e.emitAssistantDelta(stepCtx, state, step, "finished")
		e.endStepSpan(span, "succeeded", nil)
	}

	e.endPlanSpan(planSpan, len(commits), nil)
	return graph.Continue(e.delta(state, steps, commits, undo)), nil
}

// invoke runs one tool call through the queue or the registry, retrying
// transient failures with capped exponential backoff.
func (e *Executor) invoke(ctx context.Context, rctx domain.RunContext, step domain.PlanStep, args map[string]any) (map[string]any, error) {
	if step.IdempotencyKey != "" {
		withKey := make(map[string]any, len(args)+1)
		for k, v := range args {
			withKey[k] = v
		}
		withKey[registry.IdempotencyKeyArg] = step.IdempotencyKey
		args = withKey
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			if err := e.sleep(ctx, e.backoff(attempt-1)); err != nil {
				return nil, err
			}
			log.Printf("INFO: run %s step %s: retry %d after transient failure: %v", rctx.RunID, step.ID, attempt, lastErr)
		}

		result, err := e.callOnce(ctx, rctx, step.Tool, args)
		if err == nil {
			return result, nil
		}
		if !isTransient(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("retries exhausted: %w", lastErr)
}

func (e *Executor) callOnce(ctx context.Context, rctx domain.RunContext, tool string, args map[string]any) (map[string]any, error) {
	if e.queue == nil {
		return e.registry.Call(ctx, rctx, tool, args)
	}
	payload, err := json.Marshal(queue.ToolJob{Ctx: rctx, Tool: tool, Args: args})
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool job: %w", err)
	}
	reply, err := e.queue.Submit(ctx, queue.JobToolCall, payload)
	if err != nil {
		return nil, err
	}
	var result map[string]any
	if len(reply) > 0 {
		if err := json.Unmarshal(reply, &result); err != nil {
			return nil, fmt.Errorf("failed to decode tool result: %w", err)
		}
	}
	return result, nil
}

// approvalSignal builds the pause payload listing every remaining
// unapproved high-risk step, with arguments redacted, and publishes the
// approval event.
func (e *Executor) approvalSignal(ctx context.Context, state *domain.RunState, remaining []domain.PlanStep) *domain.PauseSignal {
	var pending []domain.PendingStep
	for _, step := range remaining {
		if step.Risk != domain.RiskHigh || state.Ctx.Meta.StepApproved(step.ID) {
			continue
		}
		pending = append(pending, domain.PendingStep{
			StepID: step.ID,
			Tool:   step.Tool,
			Args:   redactArgs(step.Args),
			Risk:   step.Risk,
		})
	}

	approvalID := "ap_" + uuid.New().String()[:8]
	stepIDs := make([]string, len(pending))
	for i, p := range pending {
		stepIDs[i] = p.StepID
	}
	e.emit(ctx, state, domain.EventTypeApprovalAwaiting, map[string]any{
		"approval_id": approvalID,
		"steps":       stepIDs,
	})

	return &domain.PauseSignal{
		Kind:         domain.PauseAwaitingApproval,
		Context:      fmt.Sprintf("%d step(s) need approval before execution.", len(pending)),
		ApprovalID:   approvalID,
		PendingSteps: pending,
	}
}

// delta carries the expanded plan and accumulated commits back onto the
// state. Any pause payload from an earlier halt is dropped; a pausing
// caller reinstates its own.
func (e *Executor) delta(state *domain.RunState, steps []domain.PlanStep, commits []domain.Commit, undo []domain.UndoAction) domain.Delta {
	scratch := state.Scratch
	scratch.Plan = steps
	scratch.Awaiting = nil
	output := state.Output
	output.Commits = commits
	output.Undo = undo
	output.Questions = nil
	output.Context = ""
	return domain.Delta{Scratch: &scratch, Output: &output}
}

func (e *Executor) expandStep(res *resolver, step domain.PlanStep, ref fanOutRef) ([]domain.PlanStep, error) {
	argSets, err := res.expandFanOut(ref, step.Args)
	if err != nil {
		return nil, fmt.Errorf("step %s: %w", step.ID, err)
	}
	children := make([]domain.PlanStep, len(argSets))
	for i, args := range argSets {
		child := step
		child.ID = fmt.Sprintf("%s-%d", step.ID, i)
		child.Args = args
		if step.IdempotencyKey != "" {
			child.IdempotencyKey = fmt.Sprintf("%s-%d", step.IdempotencyKey, i)
		}
		children[i] = child
	}
	return children, nil
}

// blockedDependency reports the first dependency that completed without a
// usable output.
func blockedDependency(step domain.PlanStep, hasOutput map[string]bool) (string, bool) {
	for _, dep := range step.DependsOn {
		if out, ran := hasOutput[dep]; ran && !out {
			return dep, true
		}
	}
	return "", false
}

// boundVars merges the run's resolvable variables: extracted intent slots
// overlaid with human answers.
func boundVars(scratch domain.Scratch) map[string]any {
	vars := make(map[string]any)
	if scratch.Intent != nil {
		for k, v := range scratch.Intent.Extracted {
			vars[k] = v
		}
	}
	for k, v := range scratch.Answers {
		vars[k] = v
	}
	return vars
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

func (e *Executor) emit(ctx context.Context, state *domain.RunState, typ domain.EventType, payload map[string]any) {
	eventing.Emit(ctx, e.sink, eventing.RunChannel(state.Ctx.RunID), domain.RunEvent{
		RunID:   state.Ctx.RunID,
		Type:    typ,
		Ts:      e.now().UnixMilli(),
		Payload: payload,
		TraceID: state.Ctx.TraceID,
		UserID:  state.Ctx.UserID,
		TeamID:  state.Ctx.TeamID,
	})
}

// emitToolEvent publishes the tool lifecycle event for a step. The respond
// tool is suppressed to keep chat turns out of the audit stream.
func (e *Executor) emitToolEvent(ctx context.Context, state *domain.RunState, typ domain.EventType, step domain.PlanStep, result map[string]any, errMsg string) {
	if step.Tool == ToolRespond {
		return
	}
	payload := map[string]any{
		"step_id": step.ID,
		"tool":    step.Tool,
	}
	if typ == domain.EventTypeToolSucceeded {
		payload["has_output"] = len(result) > 0
	}
	if errMsg != "" {
		payload["error"] = errMsg
	}
	e.emit(ctx, state, typ, payload)
}

// emitAssistantDelta publishes a short progress line as a step starts or
// finishes. For the respond tool the finished delta carries the reply text
// itself.
func (e *Executor) emitAssistantDelta(ctx context.Context, state *domain.RunState, step domain.PlanStep, phase string) {
	text := fmt.Sprintf("%s %s", phase, step.Tool)
	if step.Tool == ToolRespond {
		if phase != "finished" {
			return
		}
		if t, ok := step.Args["text"].(string); ok && t != "" {
			text = t
		}
	}
	e.emit(ctx, state, domain.EventTypeAssistantDelta, map[string]any{"text": text})
}
