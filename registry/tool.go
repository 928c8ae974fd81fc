// Package registry holds typed tool contracts and wraps every call with
// scope checks, rate limiting, circuit breaking and idempotency caching.
package registry

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/conductor-ai/conductor/domain"
)

// CallFunc executes the tool against resolved arguments.
type CallFunc func(ctx context.Context, args map[string]any, rctx domain.RunContext) (map[string]any, error)

// UndoFunc derives compensating arguments from a committed call. The engine
// records them; it never executes them.
type UndoFunc func(result, args map[string]any, rctx domain.RunContext) (map[string]any, error)

// Tool is the contract a connector implementation must satisfy. Registered
// once at process start and immutable thereafter; callers reference tools by
// name only.
type Tool struct {
	Name         string
	Description  string
	InputSchema  Schema
	OutputSchema Schema
	Scopes       []string
	Rate         string // "N/s" or "N/m"
	Risk         domain.Risk
	Region       string
	Call         CallFunc
	Undo         UndoFunc
}

// Schema is a minimal field validator for tool arguments. Validation has
// three outcomes: valid (possibly coerced), invalid, or pass-through when
// the schema declares no fields.
type Schema struct {
	Required []string
	Fields   map[string]string // field name -> "string" | "number" | "bool" | "array" | "object" | "any"
}

// Validate checks args against the schema and returns the coerced copy.
func (s Schema) Validate(args map[string]any) (map[string]any, error) {
	for _, key := range s.Required {
		v, ok := args[key]
		if !ok || v == nil {
			return nil, fmt.Errorf("%w: missing required field %q", ErrArgsInvalid, key)
		}
	}
	if len(s.Fields) == 0 {
		return args, nil
	}

	out := make(map[string]any, len(args))
	for key, v := range args {
		kind, declared := s.Fields[key]
		if !declared || kind == "any" {
			out[key] = v
			continue
		}
		coerced, err := coerce(kind, v)
		if err != nil {
			return nil, fmt.Errorf("%w: field %q: %v", ErrArgsInvalid, key, err)
		}
		out[key] = coerced
	}
	return out, nil
}

func coerce(kind string, v any) (any, error) {
	switch kind {
	case "string":
		if s, ok := v.(string); ok {
			return s, nil
		}
		return nil, fmt.Errorf("expected string, got %T", v)
	case "number":
		switch n := v.(type) {
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case string:
			f, err := strconv.ParseFloat(n, 64)
			if err != nil {
				return nil, fmt.Errorf("expected number, got %q", n)
			}
			return f, nil
		default:
			return nil, fmt.Errorf("expected number, got %T", v)
		}
	case "bool":
		if b, ok := v.(bool); ok {
			return b, nil
		}
		return nil, fmt.Errorf("expected bool, got %T", v)
	case "array":
		if a, ok := v.([]any); ok {
			return a, nil
		}
		return nil, fmt.Errorf("expected array, got %T", v)
	case "object":
		if m, ok := v.(map[string]any); ok {
			return m, nil
		}
		return nil, fmt.Errorf("expected object, got %T", v)
	default:
		return v, nil
	}
}

// parseRate turns "N/s" or "N/m" into a bucket capacity and refill window.
func parseRate(rate string) (int, time.Duration, error) {
	if rate == "" {
		return 0, 0, nil
	}
	parts := strings.SplitN(rate, "/", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid rate spec %q", rate)
	}
	n, err := strconv.Atoi(parts[0])
	if err != nil || n <= 0 {
		return 0, 0, fmt.Errorf("invalid rate spec %q", rate)
	}
	switch parts[1] {
	case "s":
		return n, time.Second, nil
	case "m":
		return n, time.Minute, nil
	default:
		return 0, 0, fmt.Errorf("invalid rate unit in %q", rate)
	}
}
