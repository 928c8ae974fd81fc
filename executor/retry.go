package executor

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/conductor-ai/conductor/registry"
)

const (
	retryBase  = 250 * time.Millisecond
	retryCap   = 4 * time.Second
	maxRetries = 3
)

// transientMarkers are message fragments that mark a failure as worth
// retrying when no typed error is available (e.g. replies that crossed a
// queue boundary as strings).
var transientMarkers = []string{
	"rate limited",
	"circuit open",
	"connection refused",
	"connection reset",
	"timeout",
	"temporarily unavailable",
	"status 429",
	"status 500",
	"status 502",
	"status 503",
	"status 504",
}

// isTransient classifies an execution failure. Throttling, open breakers
// and connection-level faults are retried; everything else fails the step.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, registry.ErrRateLimited) || errors.Is(err, registry.ErrCircuitOpen) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// backoff computes the delay before retry attempt n (0-based): exponential
// from the base, capped, with half-width jitter so concurrent runs spread
// out.
func (e *Executor) backoff(attempt int) time.Duration {
	d := retryBase << attempt
	if d > retryCap || d <= 0 {
		d = retryCap
	}
	half := d / 2
	return half + time.Duration(e.rand()*float64(half))
}

func defaultSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
