// Package domain defines the core domain models for the run engine.
package domain

// Mode selects how a run is driven.
type Mode string

const (
	ModePlan Mode = "PLAN"
	ModeAuto Mode = "AUTO"
)

// Risk classifies the blast radius of a tool or plan step.
type Risk string

const (
	RiskLow  Risk = "low"
	RiskHigh Risk = "high"
)

// RunStatus represents the lifecycle status of a run.
type RunStatus string

const (
	RunStatusCreated                RunStatus = "CREATED"
	RunStatusRunning                RunStatus = "RUNNING"
	RunStatusPausedAwaitingInput    RunStatus = "PAUSED_AWAITING_INPUT"
	RunStatusPausedAwaitingApproval RunStatus = "PAUSED_AWAITING_APPROVAL"
	RunStatusDone                   RunStatus = "DONE"
	RunStatusFailed                 RunStatus = "FAILED"
	RunStatusCancelled              RunStatus = "CANCELLED"
)

// PauseKind distinguishes the two halt conditions a run can enter.
type PauseKind string

const (
	PauseAwaitingInput    PauseKind = "awaiting_input"
	PauseAwaitingApproval PauseKind = "awaiting_approval"
)

// EventType represents the type of a published run event.
type EventType string

const (
	EventTypeRunStarted       EventType = "run_started"
	EventTypeRunPaused        EventType = "run_paused"
	EventTypeRunResumed       EventType = "run_resumed"
	EventTypeRunDone          EventType = "run_done"
	EventTypeRunFailed        EventType = "run_failed"
	EventTypePolicyDecision   EventType = "policy_decision"
	EventTypeAwaitingInput    EventType = "awaiting_input"
	EventTypeApprovalAwaiting EventType = "approval_awaiting"
	EventTypeToolCalled       EventType = "tool_called"
	EventTypeToolSucceeded    EventType = "tool_succeeded"
	EventTypeToolFailed       EventType = "tool_failed"
	EventTypeAssistantDelta   EventType = "assistant_delta"
)

// QuietHoursBehavior configures what a quiet-hours window does to a run.
type QuietHoursBehavior string

const (
	QuietHoursPlan  QuietHoursBehavior = "plan"
	QuietHoursDefer QuietHoursBehavior = "defer"
	QuietHoursBlock QuietHoursBehavior = "block"
)

// SkipReasonDependencyNoOutput marks a step skipped because an upstream
// dependency completed without a usable output.
const SkipReasonDependencyNoOutput = "dependency_no_output"
