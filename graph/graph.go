// Package graph implements the node/router state machine that drives a run
// through named stages.
package graph

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/conductor-ai/conductor/domain"
)

// End is the router return value that stops the graph.
const End = "END"

var (
	// ErrMaxSteps is returned when the graph loops past its step budget.
	// Exceeding the budget is fatal, not retried.
	ErrMaxSteps = errors.New("graph exceeded max steps")
	// ErrNodeNotFound is returned when routing reaches an unknown node id.
	ErrNodeNotFound = errors.New("graph node not found")
)

// Outcome is the tagged result of a node function. A nil Pause means the
// run continues; a non-nil Pause halts the graph after the delta's
// non-control fields are applied.
type Outcome struct {
	Delta domain.Delta
	Pause *domain.PauseSignal
}

// Continue returns a plain continue outcome carrying a delta.
func Continue(delta domain.Delta) Outcome {
	return Outcome{Delta: delta}
}

// Pause returns a halting outcome carrying the pause payload.
func Pause(delta domain.Delta, signal *domain.PauseSignal) Outcome {
	return Outcome{Delta: delta, Pause: signal}
}

// NodeFunc runs one stage against the current state and returns a partial
// state delta, optionally tagged as a pause.
type NodeFunc func(ctx context.Context, state *domain.RunState) (Outcome, error)

// RouterFunc picks the next node id after a stage completes, or End.
type RouterFunc func(state *domain.RunState) string

// Hooks are pure observation points. They must not mutate state; errors and
// panics inside hooks are swallowed and logged, never affecting routing.
type Hooks struct {
	OnEnter func(nodeID string, state *domain.RunState)
	OnExit  func(nodeID string, state *domain.RunState)
	OnEdge  func(fromID, toID string, state *domain.RunState)
}

// Graph is a set of named nodes with per-node routers.
type Graph struct {
	nodes   map[string]NodeFunc
	routers map[string]RouterFunc
	hooks   Hooks
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		nodes:   make(map[string]NodeFunc),
		routers: make(map[string]RouterFunc),
	}
}

// SetHooks installs observation hooks for the whole graph.
func (g *Graph) SetHooks(hooks Hooks) {
	g.hooks = hooks
}

// AddNode registers a stage. Node ids must be unique.
func (g *Graph) AddNode(id string, fn NodeFunc) error {
	if id == "" {
		return fmt.Errorf("node id is required")
	}
	if fn == nil {
		return fmt.Errorf("node fn is required")
	}
	if _, exists := g.nodes[id]; exists {
		return fmt.Errorf("node already registered: %s", id)
	}
	g.nodes[id] = fn
	return nil
}

// AddEdge registers the router evaluated after the named node completes.
func (g *Graph) AddEdge(id string, router RouterFunc) error {
	if router == nil {
		return fmt.Errorf("router is required")
	}
	if _, exists := g.nodes[id]; !exists {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	g.routers[id] = router
	return nil
}

// Run drives the state through the graph starting at startID. Execution is
// strictly sequential: enter node, run, merge delta, route, move on. The
// loop stops when a router returns End, when a node pauses, or after
// maxSteps iterations.
//
// On pause the non-control fields of the node's delta are applied, the
// pause signal and stage are recorded on the state, and the state is
// returned with a nil error so the caller can persist and later resume.
func (g *Graph) Run(ctx context.Context, startID string, state *domain.RunState, maxSteps int) (*domain.RunState, error) {
	current := startID
	for step := 0; ; step++ {
		if maxSteps > 0 && step >= maxSteps {
			return state, fmt.Errorf("%w: %d iterations from %q", ErrMaxSteps, maxSteps, startID)
		}
		if err := ctx.Err(); err != nil {
			return state, err
		}

		fn, ok := g.nodes[current]
		if !ok {
			return state, fmt.Errorf("%w: %s", ErrNodeNotFound, current)
		}

		state.Stage = current
		g.observe("onEnter", func() {
			if g.hooks.OnEnter != nil {
				g.hooks.OnEnter(current, state)
			}
		})

		outcome, err := fn(ctx, state)
		if err != nil {
			return state, fmt.Errorf("node %s: %w", current, err)
		}

		outcome.Delta.Apply(state)

		if outcome.Pause != nil {
			outcome.Pause.Stage = current
			state.Halt = outcome.Pause
			return state, nil
		}

		g.observe("onExit", func() {
			if g.hooks.OnExit != nil {
				g.hooks.OnExit(current, state)
			}
		})

		router, ok := g.routers[current]
		if !ok {
			return state, nil
		}
		next := router(state)
		if next == End || next == "" {
			return state, nil
		}

		g.observe("onEdge", func() {
			if g.hooks.OnEdge != nil {
				g.hooks.OnEdge(current, next, state)
			}
		})
		current = next
	}
}

// observe runs a hook, swallowing panics so observation can never stall or
// re-route the graph.
func (g *Graph) observe(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("WARN: graph hook %s panicked: %v", name, r)
		}
	}()
	fn()
}
