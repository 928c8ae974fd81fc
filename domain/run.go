package domain

import "time"

// RunContext carries the immutable per-invocation identity of a run.
// It is supplied by the caller and never mutated by the engine.
type RunContext struct {
	RunID       string    `json:"run_id"`
	UserID      string    `json:"user_id"`
	TeamID      string    `json:"team_id,omitempty"`
	Scopes      []string  `json:"scopes"`
	TraceID     string    `json:"trace_id"`
	Timezone    string    `json:"timezone"`
	Now         time.Time `json:"now"`
	BudgetCents int       `json:"budget_cents,omitempty"`
	Meta        RunMeta   `json:"meta"`
}

// RunMeta holds the resume channels an external caller may populate before
// re-entering a paused run.
type RunMeta struct {
	ApprovedSteps  []string `json:"approved_steps,omitempty"`
	ConfirmedSteps []string `json:"confirmed_steps,omitempty"`
}

// StepApproved reports whether a step id is in the approved set.
func (m RunMeta) StepApproved(stepID string) bool {
	for _, id := range m.ApprovedSteps {
		if id == stepID {
			return true
		}
	}
	return false
}

// Location resolves the run's timezone, falling back to UTC.
func (c RunContext) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// LocalNow returns the run's reference time in its local timezone.
func (c RunContext) LocalNow() time.Time {
	now := c.Now
	if now.IsZero() {
		now = time.Now()
	}
	return now.In(c.Location())
}

// Input is the user prompt plus optional prior conversation turns.
type Input struct {
	Prompt   string    `json:"prompt"`
	Messages []Message `json:"messages,omitempty"`
}

// Message is one conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Intent is the classified shape of the user request, produced by the
// planning stage outside this engine.
type Intent struct {
	Name       string         `json:"name"`
	Confidence float64        `json:"confidence"`
	Tools      []string       `json:"tools,omitempty"`
	Region     string         `json:"region,omitempty"`
	Required   []Question     `json:"required,omitempty"`
	Extracted  map[string]any `json:"extracted,omitempty"`
}

// Scratch is the working area nodes read and write while a run progresses.
type Scratch struct {
	Intent         *Intent        `json:"intent,omitempty"`
	Plan           []PlanStep     `json:"plan,omitempty"`
	Answers        map[string]any `json:"answers,omitempty"`
	Awaiting       *PauseSignal   `json:"awaiting,omitempty"`
	FallbackReason string         `json:"fallback_reason,omitempty"`
}

// Output accumulates what a finished run hands back to the caller.
type Output struct {
	Summary   string       `json:"summary,omitempty"`
	Diff      string       `json:"diff,omitempty"`
	Commits   []Commit     `json:"commits,omitempty"`
	Undo      []UndoAction `json:"undo,omitempty"`
	Questions []Question   `json:"questions,omitempty"`
	Context   string       `json:"context,omitempty"`
}

// RunState is the mutable value threaded through the run graph. Nodes never
// mutate it directly; they return a Delta that the engine merges.
type RunState struct {
	Input   Input       `json:"input"`
	Mode    Mode        `json:"mode"`
	Ctx     RunContext  `json:"ctx"`
	Scratch Scratch     `json:"scratch"`
	Output  Output      `json:"output"`
	Error   string      `json:"error,omitempty"`
	Stage   string      `json:"stage,omitempty"`
	Halt    *PauseSignal `json:"halt,omitempty"`
}

// Paused reports whether the run halted pending external input or approval.
func (s *RunState) Paused() bool {
	return s.Halt != nil
}

// Delta is a partial state update returned by a node. Merge semantics are a
// shallow field replace: a non-nil section replaces the whole section.
type Delta struct {
	Mode    *Mode    `json:"mode,omitempty"`
	Scratch *Scratch `json:"scratch,omitempty"`
	Output  *Output  `json:"output,omitempty"`
	Error   *string  `json:"error,omitempty"`
}

// Apply merges the delta into the state.
func (d Delta) Apply(s *RunState) {
	if d.Mode != nil {
		s.Mode = *d.Mode
	}
	if d.Scratch != nil {
		s.Scratch = *d.Scratch
	}
	if d.Output != nil {
		s.Output = *d.Output
	}
	if d.Error != nil {
		s.Error = *d.Error
	}
}

// PauseSignal is the first-class halt value carried by a pausing node. It is
// control flow, not an error: callers must persist the run and resume it via
// RunMeta / Scratch.Answers once the human side completes.
type PauseSignal struct {
	Kind         PauseKind     `json:"kind"`
	Stage        string        `json:"stage"`
	Questions    []Question    `json:"questions,omitempty"`
	Context      string        `json:"context,omitempty"`
	ApprovalID   string        `json:"approval_id,omitempty"`
	PendingSteps []PendingStep `json:"pending_steps,omitempty"`
}

// PendingStep names one unapproved step inside an approval pause payload.
// Args are redacted before leaving the engine.
type PendingStep struct {
	StepID string         `json:"step_id"`
	Tool   string         `json:"tool"`
	Args   map[string]any `json:"args,omitempty"`
	Risk   Risk           `json:"risk"`
}

// ResumeInput carries the external answers merged into a paused run.
type ResumeInput struct {
	ApprovedSteps  []string       `json:"approved_steps,omitempty"`
	ConfirmedSteps []string       `json:"confirmed_steps,omitempty"`
	Answers        map[string]any `json:"answers,omitempty"`
}

// Question asks a human for one missing structured input.
type Question struct {
	Key         string   `json:"key"`
	Question    string   `json:"question"`
	Type        string   `json:"type"`
	Required    bool     `json:"required"`
	Options     []string `json:"options,omitempty"`
	Placeholder string   `json:"placeholder,omitempty"`
}

// RunEvent is an immutable, redacted snapshot published for observability.
// The engine never reads events back.
type RunEvent struct {
	RunID   string         `json:"run_id"`
	Type    EventType      `json:"type"`
	Ts      int64          `json:"ts"`
	Payload map[string]any `json:"payload,omitempty"`
	TraceID string         `json:"trace_id,omitempty"`
	UserID  string         `json:"user_id,omitempty"`
	TeamID  string         `json:"team_id,omitempty"`
}
