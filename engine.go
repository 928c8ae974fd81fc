// Package conductor wires the run engine together: registry, policy guard,
// graph stages, event sink, queue and snapshot store behind one explicitly
// constructed Runtime. Nothing in here is process-global; tests and
// deployments build as many runtimes as they need.
package conductor

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/conductor-ai/conductor/config"
	"github.com/conductor-ai/conductor/domain"
	"github.com/conductor-ai/conductor/eventing"
	"github.com/conductor-ai/conductor/executor"
	"github.com/conductor-ai/conductor/graph"
	"github.com/conductor-ai/conductor/llm"
	"github.com/conductor-ai/conductor/policy"
	"github.com/conductor-ai/conductor/queue"
	"github.com/conductor-ai/conductor/registry"
	"github.com/conductor-ai/conductor/runstore"
	"github.com/conductor-ai/conductor/stage"
)

const defaultMaxGraphSteps = 32

// Runtime is the assembled engine. Construct with NewRuntime.
type Runtime struct {
	registry *registry.Registry
	guard    *policy.Guard
	sink     eventing.Sink
	store    runstore.Store
	policy   domain.TeamPolicy

	graph    *graph.Graph
	maxSteps int
	now      func() time.Time
}

// RuntimeOptions configure a runtime. Registry is required; Guard defaults
// to the built-in policy rules, Store to in-memory, and a nil Queue means
// tools execute in process.
type RuntimeOptions struct {
	Registry *registry.Registry
	Guard    *policy.Guard
	Policy   domain.TeamPolicy
	Sink     eventing.Sink
	Queue    queue.Submitter
	Store    runstore.Store
	LLM      llm.Client
	Config   *config.Config

	Executor executor.Options
	Now      func() time.Time
}

// NewRuntime assembles the run graph and its collaborators.
func NewRuntime(ctx context.Context, opts RuntimeOptions) (*Runtime, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if opts.Store == nil {
		opts.Store = runstore.NewInMemory()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Guard == nil {
		engine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
		if err != nil {
			return nil, fmt.Errorf("failed to build policy engine: %w", err)
		}
		opts.Guard = policy.NewGuard(engine, resolverFor(opts.Registry))
	}

	maxSteps := defaultMaxGraphSteps
	if opts.Config != nil && opts.Config.MaxGraphSteps > 0 {
		maxSteps = opts.Config.MaxGraphSteps
	}

	exec := executor.New(opts.Registry, opts.Sink, opts.Queue, opts.Executor)
	g, err := stage.BuildRunGraph(stage.Deps{
		Guard:  opts.Guard,
		Policy: opts.Policy,
		Exec:   exec,
		LLM:    opts.LLM,
		Sink:   opts.Sink,
		Now:    opts.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build run graph: %w", err)
	}

	return &Runtime{
		registry: opts.Registry,
		guard:    opts.Guard,
		sink:     opts.Sink,
		store:    opts.Store,
		policy:   opts.Policy,
		graph:    g,
		maxSteps: maxSteps,
		now:      opts.Now,
	}, nil
}

// resolverFor adapts a registry into the guard's tool lookup.
func resolverFor(reg *registry.Registry) policy.ToolResolver {
	return func(name string) (policy.ToolInfo, bool) {
		tool, err := reg.Get(name)
		if err != nil {
			return policy.ToolInfo{}, false
		}
		return policy.ToolInfo{Name: tool.Name, Region: tool.Region, Scopes: tool.Scopes}, true
	}
}

// StartRequest carries everything a new run needs. Intent and Plan come
// from the planning stage, which sits outside this engine.
type StartRequest struct {
	Ctx    domain.RunContext
	Input  domain.Input
	Mode   domain.Mode
	Intent *domain.Intent
	Plan   []domain.PlanStep
}

// Start creates a run, drives it through the graph and persists its
// terminal or paused snapshot. The returned state is final for this entry:
// check Paused() to see whether the caller must come back with input or an
// approval.
func (rt *Runtime) Start(ctx context.Context, req StartRequest) (*domain.RunState, error) {
	rctx := req.Ctx
	if rctx.RunID == "" {
		rctx.RunID = "run_" + uuid.New().String()[:8]
	}
	if rctx.Now.IsZero() {
		rctx.Now = rt.now()
	}
	mode := req.Mode
	if mode == "" {
		mode = rt.policy.Risk.DefaultMode
	}
	if mode == "" {
		mode = domain.ModePlan
	}

	state := &domain.RunState{
		Input: req.Input,
		Mode:  mode,
		Ctx:   rctx,
		Scratch: domain.Scratch{
			Intent: req.Intent,
			Plan:   req.Plan,
		},
	}

	rt.emit(ctx, state, domain.EventTypeRunStarted, map[string]any{
		"mode":  string(mode),
		"steps": len(req.Plan),
	})
	log.Printf("INFO: run %s started (mode=%s, steps=%d)", rctx.RunID, mode, len(req.Plan))

	_, err := rt.graph.Run(ctx, stage.Policy, state, rt.maxSteps)
	return rt.settle(ctx, state, err)
}

// Resume loads a paused run, merges the caller's input and re-enters the
// graph at the stage that paused.
func (rt *Runtime) Resume(ctx context.Context, runID string, resume domain.ResumeInput) (*domain.RunState, error) {
	snap, err := rt.store.Load(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	if snap == nil {
		return nil, fmt.Errorf("run not found: %s", runID)
	}
	if snap.Status != domain.RunStatusPausedAwaitingInput && snap.Status != domain.RunStatusPausedAwaitingApproval {
		return nil, fmt.Errorf("run %s is not paused (status %s)", runID, snap.Status)
	}

	state := snap.State
	state.Ctx.Meta.ApprovedSteps = appendUnique(state.Ctx.Meta.ApprovedSteps, resume.ApprovedSteps)
	state.Ctx.Meta.ConfirmedSteps = appendUnique(state.Ctx.Meta.ConfirmedSteps, resume.ConfirmedSteps)
	if len(resume.Answers) > 0 {
		scratch := state.Scratch
		if scratch.Answers == nil {
			scratch.Answers = make(map[string]any, len(resume.Answers))
		}
		for k, v := range resume.Answers {
			scratch.Answers[k] = v
		}
		state.Scratch = scratch
	}
	state.Halt = nil

	rt.emit(ctx, state, domain.EventTypeRunResumed, map[string]any{
		"stage": snap.Stage,
	})
	log.Printf("INFO: run %s resumed at stage %s", runID, snap.Stage)

	_, err = rt.graph.Run(ctx, snap.Stage, state, rt.maxSteps)
	return rt.settle(ctx, state, err)
}

// Load returns the stored snapshot for a run, or nil if unknown.
func (rt *Runtime) Load(ctx context.Context, runID string) (*runstore.Snapshot, error) {
	return rt.store.Load(ctx, runID)
}

// settle records the run's landing point: failed, paused or done.
func (rt *Runtime) settle(ctx context.Context, state *domain.RunState, err error) (*domain.RunState, error) {
	if err != nil {
		state.Error = err.Error()
		rt.save(ctx, state, domain.RunStatusFailed, state.Stage)
		rt.emit(ctx, state, domain.EventTypeRunFailed, map[string]any{
			"error": state.Error,
			"stage": state.Stage,
		})
		log.Printf("ERROR: run %s failed at stage %s: %v", state.Ctx.RunID, state.Stage, err)
		return state, err
	}

	if state.Paused() {
		status := domain.RunStatusPausedAwaitingInput
		if state.Halt.Kind == domain.PauseAwaitingApproval {
			status = domain.RunStatusPausedAwaitingApproval
		}
		rt.save(ctx, state, status, state.Halt.Stage)
		rt.emit(ctx, state, domain.EventTypeRunPaused, map[string]any{
			"kind":  string(state.Halt.Kind),
			"stage": state.Halt.Stage,
		})
		log.Printf("INFO: run %s paused at stage %s (%s)", state.Ctx.RunID, state.Halt.Stage, state.Halt.Kind)
		return state, nil
	}

	rt.save(ctx, state, domain.RunStatusDone, state.Stage)
	rt.emit(ctx, state, domain.EventTypeRunDone, map[string]any{
		"commits": len(state.Output.Commits),
	})
	log.Printf("INFO: run %s done (%d commits)", state.Ctx.RunID, len(state.Output.Commits))
	return state, nil
}

func (rt *Runtime) save(ctx context.Context, state *domain.RunState, status domain.RunStatus, stageID string) {
	now := rt.now()
	err := rt.store.Save(ctx, runstore.Snapshot{
		RunID:     state.Ctx.RunID,
		Status:    status,
		Stage:     stageID,
		State:     state,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		log.Printf("ERROR: failed to save snapshot for run %s: %v", state.Ctx.RunID, err)
	}
}

func (rt *Runtime) emit(ctx context.Context, state *domain.RunState, typ domain.EventType, payload map[string]any) {
	eventing.Emit(ctx, rt.sink, eventing.RunChannel(state.Ctx.RunID), domain.RunEvent{
		RunID:   state.Ctx.RunID,
		Type:    typ,
		Ts:      rt.now().UnixMilli(),
		Payload: payload,
		TraceID: state.Ctx.TraceID,
		UserID:  state.Ctx.UserID,
		TeamID:  state.Ctx.TeamID,
	})
}

func appendUnique(dst, add []string) []string {
	seen := make(map[string]bool, len(dst))
	for _, s := range dst {
		seen[s] = true
	}
	for _, s := range add {
		if !seen[s] {
			dst = append(dst, s)
			seen[s] = true
		}
	}
	return dst
}
