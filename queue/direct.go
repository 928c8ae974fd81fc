package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/conductor-ai/conductor/registry"
)

// JobToolCall is the job name for a single tool invocation.
const JobToolCall = "tool.call"

// Direct executes jobs in-process against a registry. It is the default
// when no external queue is configured.
type Direct struct {
	registry *registry.Registry
}

var _ Submitter = (*Direct)(nil)

// NewDirect wraps a registry.
func NewDirect(reg *registry.Registry) *Direct {
	return &Direct{registry: reg}
}

// Submit decodes the job and calls the tool. Registry errors come back
// unwrapped so callers can classify them.
func (d *Direct) Submit(ctx context.Context, job string, payload []byte) ([]byte, error) {
	if job != JobToolCall {
		return nil, fmt.Errorf("unknown job: %s", job)
	}
	var tj ToolJob
	if err := json.Unmarshal(payload, &tj); err != nil {
		return nil, fmt.Errorf("failed to decode tool job: %w", err)
	}
	result, err := d.registry.Call(ctx, tj.Ctx, tj.Tool, tj.Args)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool result: %w", err)
	}
	return out, nil
}
