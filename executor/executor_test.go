package executor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conductor-ai/conductor/domain"
	"github.com/conductor-ai/conductor/eventing"
	"github.com/conductor-ai/conductor/graph"
	"github.com/conductor-ai/conductor/queue"
	"github.com/conductor-ai/conductor/registry"
)

type fixture struct {
	registry *registry.Registry
	sink     *eventing.InMemory
	executor *Executor
	slept    int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		registry: registry.New(registry.Options{}),
		sink:     eventing.NewInMemory(),
	}
	f.executor = New(f.registry, f.sink, nil, Options{
		Sleep: func(ctx context.Context, d time.Duration) error {
			f.slept++
			return nil
		},
		Rand: func() float64 { return 0.5 },
		Now:  func() time.Time { return time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC) },
	})
	return f
}

func (f *fixture) register(t *testing.T, name string, call registry.CallFunc) {
	t.Helper()
	require.NoError(t, f.registry.Register(registry.Tool{Name: name, Call: call}))
}

func runState(plan ...domain.PlanStep) *domain.RunState {
	return &domain.RunState{
		Mode: domain.ModeAuto,
		Ctx:  domain.RunContext{RunID: "run_exec", UserID: "u1"},
		Scratch: domain.Scratch{
			Plan: plan,
		},
	}
}

func apply(state *domain.RunState, out graph.Outcome) {
	out.Delta.Apply(state)
	if out.Pause != nil {
		state.Halt = out.Pause
	}
}

func TestRunSingleStep(t *testing.T) {
	f := newFixture(t)
	f.register(t, "calendar.checkAvailability", func(ctx context.Context, args map[string]any, rctx domain.RunContext) (map[string]any, error) {
		return map[string]any{"slots": []any{map[string]any{"start": "2025-11-03T09:00:00Z"}}}, nil
	})

	state := runState(domain.PlanStep{
		ID:   "step-01",
		Tool: "calendar.checkAvailability",
		Risk: domain.RiskLow,
		Args: map[string]any{
			"startWindow": "2025-11-03T09:00:00Z",
			"endWindow":   "2025-11-03T17:00:00Z",
			"durationMin": 30,
		},
	})

	out, err := f.executor.Run(context.Background(), state)
	require.NoError(t, err)
	require.Nil(t, out.Pause)
	apply(state, out)

	require.Len(t, state.Output.Commits, 1)
	commit := state.Output.Commits[0]
	assert.Equal(t, "step-01", commit.StepID)
	assert.True(t, commit.HasOutput)
	assert.False(t, commit.Skipped)

	assert.Len(t, f.sink.OfType(domain.EventTypeToolCalled), 1)
	assert.Len(t, f.sink.OfType(domain.EventTypeToolSucceeded), 1)
	assert.Empty(t, f.sink.OfType(domain.EventTypeToolFailed))
}

func TestFanOutPreservesArrayOrder(t *testing.T) {
	f := newFixture(t)
	f.register(t, "crm.lookup", func(ctx context.Context, args map[string]any, rctx domain.RunContext) (map[string]any, error) {
		return map[string]any{"ids": []any{"a", "b"}}, nil
	})
	var targets []string
	f.register(t, "email.send", func(ctx context.Context, args map[string]any, rctx domain.RunContext) (map[string]any, error) {
		targets = append(targets, args["target"].(string))
		return map[string]any{"sent": true}, nil
	})

	state := runState(
		domain.PlanStep{ID: "step-01", Tool: "crm.lookup", Args: map[string]any{}},
		domain.PlanStep{ID: "step-02", Tool: "email.send", Args: map[string]any{"target": "$step-01.ids[*]"}},
	)

	out, err := f.executor.Run(context.Background(), state)
	require.NoError(t, err)
	apply(state, out)

	assert.Equal(t, []string{"a", "b"}, targets)
	require.Len(t, state.Output.Commits, 3)
	assert.Equal(t, "step-02-0", state.Output.Commits[1].StepID)
	assert.Equal(t, "step-02-1", state.Output.Commits[2].StepID)

	// The expanded plan replaces the marker step.
	require.Len(t, state.Scratch.Plan, 3)
	assert.Equal(t, "step-02-0", state.Scratch.Plan[1].ID)
}

func TestDependencyGatingSkipsWithoutInvoking(t *testing.T) {
	f := newFixture(t)
	f.register(t, "optional.fetch", func(ctx context.Context, args map[string]any, rctx domain.RunContext) (map[string]any, error) {
		return map[string]any{}, nil
	})
	invoked := false
	f.register(t, "report.build", func(ctx context.Context, args map[string]any, rctx domain.RunContext) (map[string]any, error) {
		invoked = true
		return map[string]any{"ok": true}, nil
	})

	state := runState(
		domain.PlanStep{ID: "step-01", Tool: "optional.fetch", Args: map[string]any{}},
		domain.PlanStep{ID: "step-02", Tool: "report.build", DependsOn: []string{"step-01"}, Args: map[string]any{}},
	)

	out, err := f.executor.Run(context.Background(), state)
	require.NoError(t, err)
	apply(state, out)

	assert.False(t, invoked, "gated step never invokes its tool")
	require.Len(t, state.Output.Commits, 2)
	skipped := state.Output.Commits[1]
	assert.True(t, skipped.Skipped)
	assert.Equal(t, domain.SkipReasonDependencyNoOutput, skipped.Reason)
	assert.False(t, skipped.HasOutput)
}

func TestPlaceholderResolution(t *testing.T) {
	f := newFixture(t)
	f.register(t, "calendar.find", func(ctx context.Context, args map[string]any, rctx domain.RunContext) (map[string]any, error) {
		return map[string]any{"slot": map[string]any{"start": "09:30"}}, nil
	})
	var got map[string]any
	f.register(t, "calendar.book", func(ctx context.Context, args map[string]any, rctx domain.RunContext) (map[string]any, error) {
		got = args
		return map[string]any{"booked": true}, nil
	})

	state := runState(
		domain.PlanStep{ID: "step-01", Tool: "calendar.find", Args: map[string]any{}},
		domain.PlanStep{ID: "step-02", Tool: "calendar.book", Args: map[string]any{
			"start": "$step-01.slot.start",
			"title": "$var.title",
		}},
	)
	state.Scratch.Answers = map[string]any{"title": "Sync"}

	_, err := f.executor.Run(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, "09:30", got["start"])
	assert.Equal(t, "Sync", got["title"])
}

func TestUnresolvedReferenceFailsFast(t *testing.T) {
	f := newFixture(t)
	f.register(t, "email.send", func(ctx context.Context, args map[string]any, rctx domain.RunContext) (map[string]any, error) {
		t.Fatal("tool must not be invoked")
		return nil, nil
	})

	state := runState(
		domain.PlanStep{ID: "step-01", Tool: "email.send", Args: map[string]any{"to": "$step-99.contact.email"}},
	)

	_, err := f.executor.Run(context.Background(), state)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrArgsUnresolved)
	assert.Zero(t, f.slept, "planning defects are not retried")
}

func TestValidatePlan(t *testing.T) {
	err := ValidatePlan([]domain.PlanStep{
		{ID: "step-01", Tool: "a"},
		{ID: "step-01", Tool: "b"},
	})
	assert.ErrorIs(t, err, ErrPlanInvalid)

	err = ValidatePlan([]domain.PlanStep{
		{ID: "step-01", Tool: "a", DependsOn: []string{"step-02"}},
		{ID: "step-02", Tool: "b"},
	})
	assert.ErrorIs(t, err, ErrPlanInvalid)

	err = ValidatePlan([]domain.PlanStep{
		{ID: "step-01", Tool: "a"},
		{ID: "step-02", Tool: "b", DependsOn: []string{"step-01"}},
	})
	assert.NoError(t, err)
}

func TestApprovalHaltAndResume(t *testing.T) {
	f := newFixture(t)
	calls := 0
	f.register(t, "crm.delete", func(ctx context.Context, args map[string]any, rctx domain.RunContext) (map[string]any, error) {
		calls++
		return map[string]any{"deleted": true}, nil
	})

	state := runState(domain.PlanStep{
		ID:   "step-01",
		Tool: "crm.delete",
		Risk: domain.RiskHigh,
		Args: map[string]any{"account": "acme-42"},
	})

	out, err := f.executor.Run(context.Background(), state)
	require.NoError(t, err)
	require.NotNil(t, out.Pause)
	apply(state, out)

	assert.Equal(t, domain.PauseAwaitingApproval, state.Halt.Kind)
	assert.NotEmpty(t, state.Halt.ApprovalID)
	require.Len(t, state.Halt.PendingSteps, 1)
	pending := state.Halt.PendingSteps[0]
	assert.Equal(t, "crm.delete", pending.Tool)
	assert.Equal(t, "[redacted]", pending.Args["account"], "raw args never leave the engine")
	assert.Zero(t, calls)
	assert.Len(t, f.sink.OfType(domain.EventTypeApprovalAwaiting), 1)

	// The pause payload is mirrored onto the state sections.
	require.NotNil(t, state.Scratch.Awaiting)
	assert.Equal(t, state.Halt.ApprovalID, state.Scratch.Awaiting.ApprovalID)
	assert.Contains(t, state.Output.Context, "approval")

	// Approve and re-enter.
	state.Halt = nil
	state.Ctx.Meta.ApprovedSteps = []string{"step-01"}
	out, err = f.executor.Run(context.Background(), state)
	require.NoError(t, err)
	require.Nil(t, out.Pause)
	apply(state, out)

	assert.Equal(t, 1, calls)
	require.Len(t, state.Output.Commits, 1)
	assert.Equal(t, "step-01", state.Output.Commits[0].StepID)
	assert.Nil(t, state.Scratch.Awaiting, "completing the run consumes the pause payload")
	assert.Empty(t, state.Output.Context)
}

func TestResumeSkipsCommittedSteps(t *testing.T) {
	f := newFixture(t)
	firstCalls := 0
	f.register(t, "calendar.find", func(ctx context.Context, args map[string]any, rctx domain.RunContext) (map[string]any, error) {
		firstCalls++
		return map[string]any{"slot": "09:00"}, nil
	})
	var booked any
	f.register(t, "calendar.book", func(ctx context.Context, args map[string]any, rctx domain.RunContext) (map[string]any, error) {
		booked = args["slot"]
		return map[string]any{"booked": true}, nil
	})

	state := runState(
		domain.PlanStep{ID: "step-01", Tool: "calendar.find", Args: map[string]any{}},
		domain.PlanStep{ID: "step-02", Tool: "calendar.book", Risk: domain.RiskHigh, Args: map[string]any{"slot": "$step-01.slot"}},
	)

	out, err := f.executor.Run(context.Background(), state)
	require.NoError(t, err)
	require.NotNil(t, out.Pause)
	apply(state, out)
	assert.Equal(t, 1, firstCalls)

	state.Halt = nil
	state.Ctx.Meta.ApprovedSteps = []string{"step-02"}
	out, err = f.executor.Run(context.Background(), state)
	require.NoError(t, err)
	apply(state, out)

	assert.Equal(t, 1, firstCalls, "committed steps do not re-run on resume")
	assert.Equal(t, "09:00", booked, "resumed steps resolve against prior commits")
	assert.Len(t, state.Output.Commits, 2)
}

func TestTransientFailureRetries(t *testing.T) {
	f := newFixture(t)
	attempts := 0
	f.register(t, "flaky.call", func(ctx context.Context, args map[string]any, rctx domain.RunContext) (map[string]any, error) {
		attempts++
		if attempts < 3 {
			return nil, fmt.Errorf("connection refused")
		}
		return map[string]any{"ok": true}, nil
	})

	state := runState(domain.PlanStep{ID: "step-01", Tool: "flaky.call", Args: map[string]any{}})

	out, err := f.executor.Run(context.Background(), state)
	require.NoError(t, err)
	apply(state, out)

	assert.Equal(t, 3, attempts)
	assert.Equal(t, 2, f.slept)
	require.Len(t, state.Output.Commits, 1)
}

func TestPermanentFailureFailsRun(t *testing.T) {
	f := newFixture(t)
	attempts := 0
	f.register(t, "broken.call", func(ctx context.Context, args map[string]any, rctx domain.RunContext) (map[string]any, error) {
		attempts++
		return nil, errors.New("invalid credentials")
	})

	state := runState(domain.PlanStep{ID: "step-01", Tool: "broken.call", Args: map[string]any{}})

	_, err := f.executor.Run(context.Background(), state)
	require.Error(t, err)
	assert.Equal(t, 1, attempts, "non-transient failures are not retried")
	assert.Len(t, f.sink.OfType(domain.EventTypeToolFailed), 1)
}

func TestRespondToolLenientAndSilent(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.registry.Register(registry.Tool{
		Name: ToolRespond,
		InputSchema: registry.Schema{
			Required: []string{"text"},
			Fields:   map[string]string{"text": "string"},
		},
		Call: func(ctx context.Context, args map[string]any, rctx domain.RunContext) (map[string]any, error) {
			return map[string]any{"done": true}, nil
		},
	}))

	// Args fail the schema (missing required "text") but respond runs anyway.
	state := runState(domain.PlanStep{ID: "step-01", Tool: ToolRespond, Args: map[string]any{"tone": "brief"}})

	out, err := f.executor.Run(context.Background(), state)
	require.NoError(t, err)
	apply(state, out)

	require.Len(t, state.Output.Commits, 1)
	assert.Empty(t, f.sink.OfType(domain.EventTypeToolCalled), "respond calls stay out of the audit stream")
	assert.Empty(t, f.sink.OfType(domain.EventTypeToolSucceeded))
}

func TestUndoCapture(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.registry.Register(registry.Tool{
		Name: "calendar.book",
		Call: func(ctx context.Context, args map[string]any, rctx domain.RunContext) (map[string]any, error) {
			return map[string]any{"event_id": "ev-9"}, nil
		},
		Undo: func(result, args map[string]any, rctx domain.RunContext) (map[string]any, error) {
			return map[string]any{"event_id": result["event_id"]}, nil
		},
	}))

	state := runState(domain.PlanStep{ID: "step-01", Tool: "calendar.book", Args: map[string]any{"slot": "09:00"}})

	out, err := f.executor.Run(context.Background(), state)
	require.NoError(t, err)
	apply(state, out)

	require.Len(t, state.Output.Undo, 1)
	assert.Equal(t, "step-01", state.Output.Undo[0].StepID)
	assert.Equal(t, "ev-9", state.Output.Undo[0].Args["event_id"])
}

func TestSchemaValidationAbortsNonChatTool(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.registry.Register(registry.Tool{
		Name: "email.send",
		InputSchema: registry.Schema{
			Required: []string{"to"},
		},
		Call: func(ctx context.Context, args map[string]any, rctx domain.RunContext) (map[string]any, error) {
			t.Fatal("tool must not be invoked")
			return nil, nil
		},
	}))

	state := runState(domain.PlanStep{ID: "step-01", Tool: "email.send", Args: map[string]any{"subject": "hi"}})

	_, err := f.executor.Run(context.Background(), state)
	assert.ErrorIs(t, err, registry.ErrArgsInvalid)
}

func TestQueueOffloadResolvesAcrossSteps(t *testing.T) {
	f := newFixture(t)
	f.register(t, "crm.lookup", func(ctx context.Context, args map[string]any, rctx domain.RunContext) (map[string]any, error) {
		return map[string]any{"accountId": "acct-7"}, nil
	})
	f.register(t, "crm.update", func(ctx context.Context, args map[string]any, rctx domain.RunContext) (map[string]any, error) {
		return map[string]any{"updated": args["account"]}, nil
	})
	exec := New(f.registry, f.sink, queue.NewDirect(f.registry), Options{
		Sleep: func(ctx context.Context, d time.Duration) error { return nil },
	})

	state := runState(
		domain.PlanStep{ID: "step-01", Tool: "crm.lookup", Args: map[string]any{"name": "Acme"}},
		domain.PlanStep{ID: "step-02", Tool: "crm.update", DependsOn: []string{"step-01"}, Args: map[string]any{"account": "$step-01.accountId"}},
	)

	out, err := exec.Run(context.Background(), state)
	require.NoError(t, err)
	apply(state, out)

	require.Len(t, state.Output.Commits, 2)
	assert.Equal(t, map[string]any{"updated": "acct-7"}, state.Output.Commits[1].Result)
}

func TestQueueErrorsStayClassifiable(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.registry.Register(registry.Tool{
		Name:   "mail.send",
		Scopes: []string{"mail:write"},
		Call: func(ctx context.Context, args map[string]any, rctx domain.RunContext) (map[string]any, error) {
			return map[string]any{}, nil
		},
	}))
	exec := New(f.registry, f.sink, queue.NewDirect(f.registry), Options{
		Sleep: func(ctx context.Context, d time.Duration) error { return nil },
	})

	state := runState(domain.PlanStep{ID: "step-01", Tool: "mail.send", Args: map[string]any{}})

	_, err := exec.Run(context.Background(), state)
	assert.ErrorIs(t, err, registry.ErrScopesMissing)
}
