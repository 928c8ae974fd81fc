package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conductor-ai/conductor/domain"
)

func continueNode(summary string) NodeFunc {
	return func(ctx context.Context, state *domain.RunState) (Outcome, error) {
		out := state.Output
		out.Summary = summary
		return Continue(domain.Delta{Output: &out}), nil
	}
}

func TestRunSequentialRouting(t *testing.T) {
	g := New()
	require.NoError(t, g.AddNode("first", continueNode("from first")))
	require.NoError(t, g.AddNode("second", continueNode("from second")))
	require.NoError(t, g.AddEdge("first", func(*domain.RunState) string { return "second" }))
	require.NoError(t, g.AddEdge("second", func(*domain.RunState) string { return End }))

	state, err := g.Run(context.Background(), "first", &domain.RunState{}, 10)
	require.NoError(t, err)
	assert.Equal(t, "from second", state.Output.Summary)
	assert.False(t, state.Paused())
}

func TestRunDeltaMergeIsShallowReplace(t *testing.T) {
	g := New()
	require.NoError(t, g.AddNode("writer", func(ctx context.Context, state *domain.RunState) (Outcome, error) {
		scratch := domain.Scratch{Answers: map[string]any{"city": "Berlin"}}
		return Continue(domain.Delta{Scratch: &scratch}), nil
	}))

	initial := &domain.RunState{Scratch: domain.Scratch{FallbackReason: "stale"}}
	state, err := g.Run(context.Background(), "writer", initial, 5)
	require.NoError(t, err)

	// The whole Scratch section is replaced, not deep merged.
	assert.Equal(t, "Berlin", state.Scratch.Answers["city"])
	assert.Empty(t, state.Scratch.FallbackReason)
}

func TestRunPauseHaltsImmediately(t *testing.T) {
	g := New()
	ranNext := false
	require.NoError(t, g.AddNode("pauser", func(ctx context.Context, state *domain.RunState) (Outcome, error) {
		out := state.Output
		out.Context = "need more"
		return Pause(domain.Delta{Output: &out}, &domain.PauseSignal{
			Kind:      domain.PauseAwaitingInput,
			Questions: []domain.Question{{Key: "when", Required: true}},
		}), nil
	}))
	require.NoError(t, g.AddNode("next", func(ctx context.Context, state *domain.RunState) (Outcome, error) {
		ranNext = true
		return Continue(domain.Delta{}), nil
	}))
	require.NoError(t, g.AddEdge("pauser", func(*domain.RunState) string { return "next" }))

	state, err := g.Run(context.Background(), "pauser", &domain.RunState{}, 5)
	require.NoError(t, err)
	require.True(t, state.Paused())
	assert.Equal(t, domain.PauseAwaitingInput, state.Halt.Kind)
	assert.Equal(t, "pauser", state.Halt.Stage)
	// Non-control fields of the pausing delta are applied.
	assert.Equal(t, "need more", state.Output.Context)
	assert.False(t, ranNext)
}

func TestRunMaxStepsIsFatal(t *testing.T) {
	g := New()
	require.NoError(t, g.AddNode("loop", continueNode("looping")))
	require.NoError(t, g.AddEdge("loop", func(*domain.RunState) string { return "loop" }))

	_, err := g.Run(context.Background(), "loop", &domain.RunState{}, 3)
	assert.ErrorIs(t, err, ErrMaxSteps)
}

func TestRunUnknownNode(t *testing.T) {
	g := New()
	require.NoError(t, g.AddNode("start", continueNode("ok")))
	require.NoError(t, g.AddEdge("start", func(*domain.RunState) string { return "missing" }))

	_, err := g.Run(context.Background(), "start", &domain.RunState{}, 5)
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestHookPanicsAreSwallowed(t *testing.T) {
	g := New()
	require.NoError(t, g.AddNode("only", continueNode("done")))
	g.SetHooks(Hooks{
		OnEnter: func(string, *domain.RunState) { panic("observer bug") },
		OnExit:  func(string, *domain.RunState) { panic("observer bug") },
	})

	state, err := g.Run(context.Background(), "only", &domain.RunState{}, 5)
	require.NoError(t, err)
	assert.Equal(t, "done", state.Output.Summary)
}

func TestAddNodeDuplicate(t *testing.T) {
	g := New()
	require.NoError(t, g.AddNode("a", continueNode("x")))
	assert.Error(t, g.AddNode("a", continueNode("y")))
}
