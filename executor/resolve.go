package executor

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Whole-string reference tokens: "$step-01.slots.start" or "$var.date".
var refPattern = regexp.MustCompile(`^\$([A-Za-z0-9_-]+)\.([A-Za-z0-9_.\[\]*-]+)$`)

const varBase = "var"

// resolver expands step and variable references against the results of
// already-executed steps and the run's bound variables.
type resolver struct {
	results map[string]map[string]any
	vars    map[string]any
}

// resolveArgs walks the argument tree and substitutes every resolvable
// reference. References whose base step has no result yet are left as-is;
// the caller decides whether that is a deferral or a failure.
func (r *resolver) resolveArgs(args map[string]any) (map[string]any, error) {
	out, err := r.resolveValue(args)
	if err != nil {
		return nil, err
	}
	resolved, ok := out.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: arguments resolved to %T", ErrArgsUnresolved, out)
	}
	return resolved, nil
}

func (r *resolver) resolveValue(v any) (any, error) {
	switch val := v.(type) {
	case string:
		return r.resolveString(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			resolved, err := r.resolveValue(item)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			resolved, err := r.resolveValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

func (r *resolver) resolveString(s string) (any, error) {
	base, path, ok := parseRef(s)
	if !ok {
		return s, nil
	}
	if strings.HasSuffix(path, "[*]") {
		// Fan-out markers are handled before per-step resolution; reaching
		// one here means the plan was not expanded.
		return nil, fmt.Errorf("%w: unexpanded fan-out reference %q", ErrArgsUnresolved, s)
	}
	if base == varBase {
		v, err := lookupPath(asAny(r.vars), path)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrArgsUnresolved, s, err)
		}
		return v, nil
	}
	result, ok := r.results[base]
	if !ok {
		// Base step has not produced a result yet. Left as-is for a later
		// pass; the pre-execution guard turns leftovers into a failure.
		return s, nil
	}
	v, err := lookupPath(asAny(result), path)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrArgsUnresolved, s, err)
	}
	return v, nil
}

// parseRef splits a whole-string token into its base (step id or "var") and
// dotted path. Non-token strings pass through untouched; an all-digit base
// is a literal like "$100.50", not a reference.
func parseRef(s string) (base, path string, ok bool) {
	m := refPattern.FindStringSubmatch(s)
	if m == nil {
		return "", "", false
	}
	if allDigits(m[1]) {
		return "", "", false
	}
	return m[1], m[2], true
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// lookupPath walks a dotted path through nested maps and slices. Segments
// index maps by key; a "[N]" suffix indexes into a slice.
func lookupPath(root map[string]any, path string) (any, error) {
	var cur any = root
	for _, seg := range strings.Split(path, ".") {
		key, index, hasIndex, err := parseSegment(seg)
		if err != nil {
			return nil, err
		}
		if key != "" {
			m, ok := cur.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("segment %q: not an object", seg)
			}
			cur, ok = m[key]
			if !ok {
				return nil, fmt.Errorf("segment %q: no such field", seg)
			}
		}
		if hasIndex {
			arr, ok := cur.([]any)
			if !ok {
				return nil, fmt.Errorf("segment %q: not an array", seg)
			}
			if index < 0 || index >= len(arr) {
				return nil, fmt.Errorf("segment %q: index out of range", seg)
			}
			cur = arr[index]
		}
	}
	return cur, nil
}

func parseSegment(seg string) (key string, index int, hasIndex bool, err error) {
	open := strings.Index(seg, "[")
	if open < 0 {
		return seg, 0, false, nil
	}
	if !strings.HasSuffix(seg, "]") {
		return "", 0, false, fmt.Errorf("segment %q: malformed index", seg)
	}
	idx, convErr := strconv.Atoi(seg[open+1 : len(seg)-1])
	if convErr != nil {
		return "", 0, false, fmt.Errorf("segment %q: malformed index", seg)
	}
	return seg[:open], idx, true, nil
}

// firstUnresolved finds a leftover reference token in resolved arguments.
func firstUnresolved(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		if _, _, ok := parseRef(val); ok {
			return val, true
		}
	case map[string]any:
		for _, item := range val {
			if ref, found := firstUnresolved(item); found {
				return ref, true
			}
		}
	case []any:
		for _, item := range val {
			if ref, found := firstUnresolved(item); found {
				return ref, true
			}
		}
	}
	return "", false
}

// asAny makes a typed map usable as a lookup root without aliasing.
func asAny(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
