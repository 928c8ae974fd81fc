package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/conductor-ai/conductor/domain"
)

const (
	defaultFailureThreshold = 5
	defaultResetWindow      = 60 * time.Second
	defaultCacheTTL         = 15 * time.Minute
)

// Options tune the guards wrapped around every tool call. Zero values get
// the defaults above. Clock is injectable for tests.
type Options struct {
	FailureThreshold int
	ResetWindow      time.Duration
	CacheTTL         time.Duration
	Clock            func() time.Time
}

// Registry stores tool contracts keyed by name. All shared guard state
// (buckets, breakers, idempotency cache) lives on the Registry value; there
// are no package-level globals, so tests construct and discard registries
// freely.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool

	limiter  *rateLimiter
	breakers *breakerRegistry
	cache    *idempotencyCache
	now      func() time.Time
}

// New creates a registry with the given options.
func New(opts Options) *Registry {
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = defaultFailureThreshold
	}
	if opts.ResetWindow <= 0 {
		opts.ResetWindow = defaultResetWindow
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Registry{
		tools:    make(map[string]Tool),
		limiter:  newRateLimiter(),
		breakers: newBreakerRegistry(opts.FailureThreshold, opts.ResetWindow),
		cache:    newIdempotencyCache(opts.CacheTTL),
		now:      opts.Clock,
	}
}

// Register adds a tool contract. Names must be unique and rate specs parse
// at registration time so bad contracts fail fast.
func (r *Registry) Register(tool Tool) error {
	if tool.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if tool.Call == nil {
		return fmt.Errorf("tool %s: call func is required", tool.Name)
	}
	if _, _, err := parseRate(tool.Rate); err != nil {
		return fmt.Errorf("tool %s: %w", tool.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("tool already registered: %s", tool.Name)
	}
	r.tools[tool.Name] = tool
	return nil
}

// MustRegister adds a tool or panics. Intended for process-start wiring.
func (r *Registry) MustRegister(tool Tool) {
	if err := r.Register(tool); err != nil {
		panic(err)
	}
}

// Get returns the contract for a name.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	if !ok {
		return Tool{}, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return tool, nil
}

// Names lists the registered tool names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// Call runs the tool through the full guard pipeline: scope check, rate
// limit, circuit breaker, then idempotency cache lookup before the actual
// invocation. A cached result is returned unchanged and counts as a breaker
// success.
func (r *Registry) Call(ctx context.Context, rctx domain.RunContext, name string, args map[string]any) (map[string]any, error) {
	tool, err := r.Get(name)
	if err != nil {
		return nil, err
	}

	if missing := missingScopes(rctx.Scopes, tool.Scopes); len(missing) > 0 {
		return nil, fmt.Errorf("%w: tool %s requires %v", ErrScopesMissing, name, missing)
	}

	now := r.now()
	capacity, window, _ := parseRate(tool.Rate)
	if !r.limiter.allow(rctx.UserID, name, capacity, window, now) {
		return nil, fmt.Errorf("%w: %s for user %s", ErrRateLimited, name, rctx.UserID)
	}

	b := r.breakers.forTool(name)
	if !b.acquire(now) {
		return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, name)
	}

	key, args := callKey(rctx.RunID, name, args)
	if cached, ok := r.cache.get(key, now); ok {
		b.record(r.now(), true)
		return cached, nil
	}

	// A panicking tool must still release the breaker's half-open probe,
	// otherwise the tool is rejected forever. Counted as a failure, then
	// rethrown.
	result, err := func() (map[string]any, error) {
		defer func() {
			if rec := recover(); rec != nil {
				b.record(r.now(), false)
				panic(rec)
			}
		}()
		return tool.Call(ctx, args, rctx)
	}()
	if err != nil {
		b.record(r.now(), false)
		return nil, fmt.Errorf("tool %s: %w", name, err)
	}
	b.record(r.now(), true)
	r.cache.put(key, result, now)
	return result, nil
}

// IdempotencyKeyArg is a reserved argument the executor sets from
// PlanStep.IdempotencyKey to pin a step's cache key explicitly. It is
// stripped before the tool sees the arguments.
const IdempotencyKeyArg = "__idempotency_key"

// callKey resolves the cache key for a call, honoring an explicit step key
// and otherwise hashing (runID, tool, args).
func callKey(runID, name string, args map[string]any) (string, map[string]any) {
	if v, ok := args[IdempotencyKeyArg]; ok {
		if s, ok := v.(string); ok && s != "" {
			stripped := make(map[string]any, len(args))
			for k, val := range args {
				if k != IdempotencyKeyArg {
					stripped[k] = val
				}
			}
			return s, stripped
		}
	}
	return idempotencyKey(runID, name, args), args
}

func missingScopes(have, want []string) []string {
	var missing []string
	for _, scope := range want {
		found := false
		for _, h := range have {
			if h == scope {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, scope)
		}
	}
	return missing
}
