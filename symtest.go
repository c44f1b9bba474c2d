// Package symtest binds unit-test style assertions compiled into a target
// binary to a symbolic execution engine, so that each embedded test can be
// explored over all admissible symbolic inputs instead of one concrete input.
//
// The package owns the instrumentation protocol and the concurrent test
// scheduler: it discovers test entry points through the target's runtime
// descriptor table, fills the declared input region with fresh symbolic
// bytes, intercepts the target's test primitives (assume, concretize,
// pass/fail/abandon, logging) by address and translates them into operations
// against the engine's per-path state. The engine itself (memory, forking,
// constraint solving) is an external capability consumed through the
// interfaces in engine.go.
package symtest

import (
	"errors"
	"fmt"
)

// Standard widths.
const (
	WidthBool = 1
	Width8    = 8
	Width16   = 16
	Width32   = 32
	Width64   = 64
)

// TerminationTag marks path terminations requested by this harness.
// Any path that ends with a different tag did so for reasons outside the
// test protocol (crash, timeout, engine abort) and is reported as anomalous.
const TerminationTag = "terminated by symtest"

var (
	// ErrInvalidArgument is returned on misuse of a context operation,
	// e.g. a non-positive enumeration bound.
	ErrInvalidArgument = errors.New("symtest: invalid argument")

	// ErrPathInfeasible is returned by engines when a path's constraint set
	// has become unsatisfiable. It is not a failure: the harness propagates
	// it back to the engine, which discards the path without a verdict.
	ErrPathInfeasible = errors.New("symtest: path infeasible")

	// ErrSolverResourceLimit is returned by engines whose solver gave up
	// before deciding satisfiability.
	ErrSolverResourceLimit = errors.New("symtest: solver resource limit")
)

// SetupError indicates that the target does not honor the instrumentation
// contract: the descriptor table or test list is missing or malformed.
// It is the only error fatal to a whole run; everything else is contained
// to a single test.
type SetupError struct {
	Reason string
}

// Error returns the string representation of the error.
func (e *SetupError) Error() string {
	return fmt.Sprintf("symtest: setup: %s", e.Reason)
}

func setupErrorf(format string, args ...interface{}) *SetupError {
	return &SetupError{Reason: fmt.Sprintf(format, args...)}
}

// assert panics if condition is false.
func assert(condition bool, format string, args ...interface{}) {
	if !condition {
		panic(fmt.Sprintf("assert: "+format, args...))
	}
}
