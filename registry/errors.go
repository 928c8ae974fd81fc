package registry

import "errors"

var (
	// ErrToolNotFound is returned when a call names an unregistered tool.
	ErrToolNotFound = errors.New("tool not found")
	// ErrScopesMissing is returned when the run context lacks a scope the
	// tool requires.
	ErrScopesMissing = errors.New("scopes missing")
	// ErrRateLimited is returned when the per-user bucket for a tool is empty.
	ErrRateLimited = errors.New("rate limited")
	// ErrCircuitOpen is returned while a tool's circuit breaker is open.
	ErrCircuitOpen = errors.New("circuit open")
	// ErrArgsInvalid is returned when arguments fail the tool's input schema.
	ErrArgsInvalid = errors.New("args invalid")
)
