// Package routing turns delivery requests into vehicle routes: it merges
// co-located deliveries, clusters oversized instances, builds the VRPTW
// problem for a solver and reconstructs timed routes from its answer.
package routing

import (
	"errors"
	"fmt"
)

// Kind classifies a failed optimization.
type Kind string

const (
	KindGeocoding     Kind = "geocoding_failure"
	KindMatrix        Kind = "matrix_failure"
	KindInfeasible    Kind = "solver_infeasible"
	KindSolver        Kind = "solver_failure"
	KindConfiguration Kind = "configuration_error"
)

// Error is a classified optimization failure. Input names the offending
// value (an address, a capacity, an offset) when there is one.
type Error struct {
	Kind  Kind
	Input string
	Err   error
}

func (e *Error) Error() string {
	if e.Input != "" {
		return fmt.Sprintf("%s (%s): %v", e.Kind, e.Input, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}

func configError(input, format string, args ...any) *Error {
	return &Error{Kind: KindConfiguration, Input: input, Err: fmt.Errorf(format, args...)}
}
