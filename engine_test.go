package conductor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conductor-ai/conductor/domain"
	"github.com/conductor-ai/conductor/eventing"
	"github.com/conductor-ai/conductor/registry"
	"github.com/conductor-ai/conductor/runstore"
	"github.com/conductor-ai/conductor/tests/helpers"
)

type harness struct {
	runtime  *Runtime
	registry *registry.Registry
	sink     *eventing.InMemory
	store    *runstore.InMemory
}

func newHarness(t *testing.T, pol domain.TeamPolicy) *harness {
	t.Helper()
	h := &harness{
		registry: registry.New(registry.Options{}),
		sink:     eventing.NewInMemory(),
		store:    runstore.NewInMemory(),
	}
	rt, err := NewRuntime(context.Background(), RuntimeOptions{
		Registry: h.registry,
		Policy:   pol,
		Sink:     h.sink,
		Store:    h.store,
		Now:      func() time.Time { return time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	h.runtime = rt
	return h
}

func autoPolicy(tools ...string) domain.TeamPolicy {
	return domain.TeamPolicy{
		Allow: domain.Allowlist{Tools: tools},
		Risk:  domain.RiskRules{DefaultMode: domain.ModeAuto, ConfidenceThreshold: 0.7},
	}
}

func runCtx() domain.RunContext {
	return domain.RunContext{
		UserID:   "u1",
		TeamID:   "t1",
		Timezone: "UTC",
		Now:      time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC),
	}
}

func TestCalendarRunEndToEnd(t *testing.T) {
	h := newHarness(t, autoPolicy("calendar.checkAvailability"))
	h.registry.MustRegister(registry.Tool{
		Name: "calendar.checkAvailability",
		Call: func(ctx context.Context, args map[string]any, rctx domain.RunContext) (map[string]any, error) {
			return map[string]any{"slots": []any{map[string]any{"start": "2025-11-03T09:00:00Z", "end": "2025-11-03T09:30:00Z"}}}, nil
		},
	})

	state, err := h.runtime.Start(context.Background(), StartRequest{
		Ctx:    runCtx(),
		Input:  domain.Input{Prompt: "find me 30 minutes tomorrow morning"},
		Mode:   domain.ModeAuto,
		Intent: &domain.Intent{Name: "check_availability", Confidence: 0.92, Tools: []string{"calendar.checkAvailability"}},
		Plan: []domain.PlanStep{{
			ID:   "step-01",
			Tool: "calendar.checkAvailability",
			Risk: domain.RiskLow,
			Args: map[string]any{
				"startWindow": "2025-11-03T09:00:00Z",
				"endWindow":   "2025-11-03T17:00:00Z",
				"durationMin": 30,
			},
		}},
	})
	require.NoError(t, err)

	assert.False(t, state.Paused(), "a low-risk allowed run never pauses")
	require.Len(t, state.Output.Commits, 1)
	assert.Equal(t, "step-01", state.Output.Commits[0].StepID)
	assert.True(t, state.Output.Commits[0].HasOutput)
	assert.NotEmpty(t, state.Output.Summary)

	assert.Len(t, h.sink.OfType(domain.EventTypeRunStarted), 1)
	assert.Len(t, h.sink.OfType(domain.EventTypeRunDone), 1)
	assert.Empty(t, h.sink.OfType(domain.EventTypeRunPaused))

	snap, err := h.runtime.Load(context.Background(), state.Ctx.RunID)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, domain.RunStatusDone, snap.Status)
}

func TestApprovalRoundTrip(t *testing.T) {
	pol := autoPolicy("crm.delete")
	pol.Risk.ApproveHighRisk = true
	h := newHarness(t, pol)

	calls := 0
	h.registry.MustRegister(registry.Tool{
		Name: "crm.delete",
		Risk: domain.RiskHigh,
		Call: func(ctx context.Context, args map[string]any, rctx domain.RunContext) (map[string]any, error) {
			calls++
			return map[string]any{"deleted": true}, nil
		},
	})

	state, err := h.runtime.Start(context.Background(), StartRequest{
		Ctx:    runCtx(),
		Mode:   domain.ModeAuto,
		Intent: &domain.Intent{Name: "delete_account", Confidence: 0.95, Tools: []string{"crm.delete"}},
		Plan: []domain.PlanStep{{
			ID:   "step-01",
			Tool: "crm.delete",
			Risk: domain.RiskHigh,
			Args: map[string]any{"account": "acme-42"},
		}},
	})
	require.NoError(t, err)

	require.True(t, state.Paused())
	assert.Equal(t, domain.PauseAwaitingApproval, state.Halt.Kind)
	assert.NotEmpty(t, state.Halt.ApprovalID)
	assert.Zero(t, calls, "no side effect before approval")

	snap, err := h.runtime.Load(context.Background(), state.Ctx.RunID)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, domain.RunStatusPausedAwaitingApproval, snap.Status)

	resumed, err := h.runtime.Resume(context.Background(), state.Ctx.RunID, domain.ResumeInput{
		ApprovedSteps: []string{"step-01"},
	})
	require.NoError(t, err)

	assert.False(t, resumed.Paused())
	assert.Equal(t, 1, calls)
	require.Len(t, resumed.Output.Commits, 1)
	assert.Len(t, h.sink.OfType(domain.EventTypeRunResumed), 1)
	assert.Len(t, h.sink.OfType(domain.EventTypeRunDone), 1)
}

func TestMissingInputRoundTrip(t *testing.T) {
	h := newHarness(t, autoPolicy("calendar.book"))
	var bookedDate any
	h.registry.MustRegister(registry.Tool{
		Name: "calendar.book",
		Call: func(ctx context.Context, args map[string]any, rctx domain.RunContext) (map[string]any, error) {
			bookedDate = args["date"]
			return map[string]any{"event_id": "ev-1"}, nil
		},
	})

	state, err := h.runtime.Start(context.Background(), StartRequest{
		Ctx:  runCtx(),
		Mode: domain.ModeAuto,
		Intent: &domain.Intent{
			Name:       "book_meeting",
			Confidence: 0.9,
			Tools:      []string{"calendar.book"},
			Required: []domain.Question{
				{Key: "date", Question: "Which date?", Type: "string", Required: true},
			},
		},
		Plan: []domain.PlanStep{{
			ID:   "step-01",
			Tool: "calendar.book",
			Args: map[string]any{"date": "$var.date"},
		}},
	})
	require.NoError(t, err)

	require.True(t, state.Paused())
	assert.Equal(t, domain.PauseAwaitingInput, state.Halt.Kind)
	require.Len(t, state.Halt.Questions, 1)
	assert.Equal(t, "date", state.Halt.Questions[0].Key)

	// The pause payload lands on scratch and output, so a caller holding
	// only the persisted snapshot sees what the run is waiting for.
	require.NotNil(t, state.Scratch.Awaiting)
	assert.Equal(t, domain.PauseAwaitingInput, state.Scratch.Awaiting.Kind)
	require.Len(t, state.Output.Questions, 1)
	assert.Equal(t, "date", state.Output.Questions[0].Key)
	assert.NotEmpty(t, state.Output.Context)

	resumed, err := h.runtime.Resume(context.Background(), state.Ctx.RunID, domain.ResumeInput{
		Answers: map[string]any{"date": "2025-11-05"},
	})
	require.NoError(t, err)

	assert.False(t, resumed.Paused())
	assert.Equal(t, "2025-11-05", bookedDate, "answers feed placeholder resolution")
	require.Len(t, resumed.Output.Commits, 1)
	assert.Nil(t, resumed.Scratch.Awaiting)
	assert.Empty(t, resumed.Output.Questions)
}

func TestDeniedToolFallsBack(t *testing.T) {
	h := newHarness(t, autoPolicy("calendar.checkAvailability"))
	h.registry.MustRegister(registry.Tool{
		Name: "email.send",
		Call: func(ctx context.Context, args map[string]any, rctx domain.RunContext) (map[string]any, error) {
			t.Fatal("denied tool must not run")
			return nil, nil
		},
	})

	state, err := h.runtime.Start(context.Background(), StartRequest{
		Ctx:    runCtx(),
		Mode:   domain.ModeAuto,
		Intent: &domain.Intent{Name: "send_email", Confidence: 0.95, Tools: []string{"email.send"}},
		Plan: []domain.PlanStep{{
			ID:   "step-01",
			Tool: "email.send",
			Args: map[string]any{"to": "a@b.c"},
		}},
	})
	require.NoError(t, err)

	assert.False(t, state.Paused())
	assert.Empty(t, state.Output.Commits)
	assert.Contains(t, state.Output.Summary, "team policy")
	assert.Len(t, h.sink.OfType(domain.EventTypePolicyDecision), 1)
}

func TestPausedRunSurvivesRuntimeRestart(t *testing.T) {
	pol := autoPolicy("crm.delete")
	pol.Risk.ApproveHighRisk = true
	store := helpers.NewTestRunStore(t)

	newRT := func(reg *registry.Registry) *Runtime {
		rt, err := NewRuntime(context.Background(), RuntimeOptions{
			Registry: reg,
			Policy:   pol,
			Store:    store,
		})
		require.NoError(t, err)
		return rt
	}

	reg := registry.New(registry.Options{})
	calls := 0
	reg.MustRegister(registry.Tool{
		Name: "crm.delete",
		Risk: domain.RiskHigh,
		Call: func(ctx context.Context, args map[string]any, rctx domain.RunContext) (map[string]any, error) {
			calls++
			return map[string]any{"deleted": true}, nil
		},
	})

	state, err := newRT(reg).Start(context.Background(), StartRequest{
		Ctx:    runCtx(),
		Mode:   domain.ModeAuto,
		Intent: &domain.Intent{Name: "delete_account", Confidence: 0.95, Tools: []string{"crm.delete"}},
		Plan:   []domain.PlanStep{{ID: "step-01", Tool: "crm.delete", Risk: domain.RiskHigh, Args: map[string]any{"account": "acme"}}},
	})
	require.NoError(t, err)
	require.True(t, state.Paused())

	// A fresh runtime over the same store picks the run up where it halted.
	resumed, err := newRT(reg).Resume(context.Background(), state.Ctx.RunID, domain.ResumeInput{
		ApprovedSteps: []string{"step-01"},
	})
	require.NoError(t, err)
	assert.False(t, resumed.Paused())
	assert.Equal(t, 1, calls)
}

func TestResumeUnknownRun(t *testing.T) {
	h := newHarness(t, autoPolicy())
	_, err := h.runtime.Resume(context.Background(), "run_missing", domain.ResumeInput{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestResumeCompletedRunRejected(t *testing.T) {
	h := newHarness(t, autoPolicy("respond"))
	h.registry.MustRegister(registry.Tool{
		Name: "respond",
		Call: func(ctx context.Context, args map[string]any, rctx domain.RunContext) (map[string]any, error) {
			return map[string]any{"done": true}, nil
		},
	})

	state, err := h.runtime.Start(context.Background(), StartRequest{
		Ctx:    runCtx(),
		Mode:   domain.ModeAuto,
		Intent: &domain.Intent{Name: "chat", Confidence: 0.99, Tools: []string{"respond"}},
		Plan:   []domain.PlanStep{{ID: "step-01", Tool: "respond", Args: map[string]any{"text": "hi"}}},
	})
	require.NoError(t, err)
	require.False(t, state.Paused())

	_, err = h.runtime.Resume(context.Background(), state.Ctx.RunID, domain.ResumeInput{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not paused")
}
