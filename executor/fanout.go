package executor

import (
	"fmt"
	"strings"
)

// fanOutRef identifies the single argument of a step that carries an
// expansion marker ("$step-01.ids[*]").
type fanOutRef struct {
	arg  string
	base string
	path string
}

// detectFanOut scans a step's top-level arguments for an expansion marker.
// At most one marker per step is supported; a second one is a plan defect.
func detectFanOut(args map[string]any) (fanOutRef, bool, error) {
	var found fanOutRef
	var seen bool
	for key, v := range args {
		s, ok := v.(string)
		if !ok {
			continue
		}
		base, path, ok := parseRef(s)
		if !ok || !strings.HasSuffix(path, "[*]") {
			continue
		}
		if seen {
			return fanOutRef{}, false, fmt.Errorf("%w: multiple fan-out markers", ErrPlanInvalid)
		}
		found = fanOutRef{arg: key, base: base, path: strings.TrimSuffix(path, "[*]")}
		seen = true
	}
	return found, seen, nil
}

// expandFanOut resolves the marker's source array and returns one child arg
// set per element, in array order. Child ids are derived by the caller.
func (r *resolver) expandFanOut(ref fanOutRef, args map[string]any) ([]map[string]any, error) {
	result, ok := r.results[ref.base]
	if !ok {
		return nil, fmt.Errorf("%w: fan-out source %s has no result", ErrArgsUnresolved, ref.base)
	}
	v, err := lookupPath(asAny(result), ref.path)
	if err != nil {
		return nil, fmt.Errorf("%w: fan-out path %s.%s: %v", ErrArgsUnresolved, ref.base, ref.path, err)
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: fan-out path %s.%s is not an array", ErrArgsUnresolved, ref.base, ref.path)
	}

	children := make([]map[string]any, len(arr))
	for i, item := range arr {
		child := make(map[string]any, len(args))
		for k, val := range args {
			child[k] = val
		}
		child[ref.arg] = item
		children[i] = child
	}
	return children, nil
}
