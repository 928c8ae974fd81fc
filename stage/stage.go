// Package stage holds the run graph's nodes: policy routing, confirmation
// and approval gating, plan execution, summarization and fallback, plus the
// wiring that assembles them into a graph.
package stage

import (
	"context"
	"time"

	"github.com/conductor-ai/conductor/domain"
	"github.com/conductor-ai/conductor/eventing"
	"github.com/conductor-ai/conductor/executor"
	"github.com/conductor-ai/conductor/graph"
	"github.com/conductor-ai/conductor/llm"
	"github.com/conductor-ai/conductor/policy"
)

// Stage ids. Policy and fallback ids are shared with the guard's routing
// decisions.
const (
	Policy    = "policy"
	Confirm   = policy.StageConfirm
	Execute   = "execute"
	Summarize = "summarize"
	Fallback  = policy.StageFallback
)

// Deps bundles what the stages need. All fields except LLM are required.
type Deps struct {
	Guard  *policy.Guard
	Policy domain.TeamPolicy
	Exec   *executor.Executor
	LLM    llm.Client
	Sink   eventing.Sink
	Now    func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d Deps) emit(ctx context.Context, state *domain.RunState, typ domain.EventType, payload map[string]any) {
	eventing.Emit(ctx, d.Sink, eventing.RunChannel(state.Ctx.RunID), domain.RunEvent{
		RunID:   state.Ctx.RunID,
		Type:    typ,
		Ts:      d.now().UnixMilli(),
		Payload: payload,
		TraceID: state.Ctx.TraceID,
		UserID:  state.Ctx.UserID,
		TeamID:  state.Ctx.TeamID,
	})
}

// BuildRunGraph assembles the run graph:
//
//	policy -> confirm -> execute -> summarize -> END
//	      \-> fallback ----------------------/> END
func BuildRunGraph(d Deps) (*graph.Graph, error) {
	g := graph.New()

	nodes := map[string]graph.NodeFunc{
		Policy:    d.policyNode,
		Confirm:   d.confirmNode,
		Execute:   d.Exec.Run,
		Summarize: d.summarizeNode,
		Fallback:  d.fallbackNode,
	}
	for id, fn := range nodes {
		if err := g.AddNode(id, fn); err != nil {
			return nil, err
		}
	}

	edges := map[string]graph.RouterFunc{
		Policy: func(state *domain.RunState) string {
			if state.Scratch.FallbackReason != "" {
				return Fallback
			}
			return Confirm
		},
		Confirm:   func(*domain.RunState) string { return Execute },
		Execute:   func(*domain.RunState) string { return Summarize },
		Summarize: func(*domain.RunState) string { return graph.End },
		Fallback:  func(*domain.RunState) string { return graph.End },
	}
	for id, router := range edges {
		if err := g.AddEdge(id, router); err != nil {
			return nil, err
		}
	}
	return g, nil
}
