// Package queue is the offload boundary for tool execution. A run may hand
// tool calls to an external worker pool instead of invoking connectors
// in-process; the engine only sees the Submitter contract.
package queue

import (
	"context"

	"github.com/conductor-ai/conductor/domain"
)

// Submitter hands a job to a worker and waits for its reply payload.
type Submitter interface {
	Submit(ctx context.Context, job string, payload []byte) ([]byte, error)
}

// ToolJob is the wire payload for a queued tool call.
type ToolJob struct {
	Ctx  domain.RunContext `json:"ctx"`
	Tool string            `json:"tool"`
	Args map[string]any    `json:"args"`
}

// ToolReply carries a queued call's result back. Error is a transport-level
// string so replies stay plain JSON.
type ToolReply struct {
	Result map[string]any `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}
