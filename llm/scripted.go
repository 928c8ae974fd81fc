package llm

import (
	"context"
	"fmt"
	"sync"
)

// Scripted is a canned-response client for tests. Responses play back in
// order; once exhausted it echoes the last user message.
type Scripted struct {
	mu        sync.Mutex
	responses []string
	next      int
	requests  []CompletionRequest
}

var _ Client = (*Scripted)(nil)

// NewScripted creates a scripted client.
func NewScripted(responses ...string) *Scripted {
	return &Scripted{responses: responses}
}

// Complete returns the next scripted response.
func (s *Scripted) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)

	if s.next < len(s.responses) {
		resp := s.responses[s.next]
		s.next++
		return resp, nil
	}

	var lastUser string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			lastUser = req.Messages[i].Content
			break
		}
	}
	if lastUser == "" {
		return "ok", nil
	}
	return fmt.Sprintf("Received: %s", truncate(lastUser, 100)), nil
}

// LastRequest returns the most recent request, if any.
func (s *Scripted) LastRequest() (CompletionRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		return CompletionRequest{}, false
	}
	return s.requests[len(s.requests)-1], true
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
