package executor

import "errors"

var (
	// ErrPlanInvalid is returned when a plan has duplicate step ids or a
	// dependency that does not point at an earlier step.
	ErrPlanInvalid = errors.New("plan invalid")
	// ErrArgsUnresolved is returned when a step argument still contains a
	// reference after resolution. This is a planning defect and is never
	// retried.
	ErrArgsUnresolved = errors.New("args unresolved")
)
