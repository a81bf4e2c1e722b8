package lazy

import (
	"errors"
	"fmt"

	"myceliumweb.org/lazyrt/ident"
	"myceliumweb.org/lazyrt/opcode"
)

var (
	// ErrCyclicEvaluation is returned when forcing a thunk that is already being evaluated.
	ErrCyclicEvaluation = errors.New("cyclic evaluation")
	// ErrMissingEntryCode is returned when forcing a thunk that was constructed without code.
	ErrMissingEntryCode = errors.New("thunk has no entry code")
	// ErrMissingData is returned when forcing a thunk that has no backing data cell.
	ErrMissingData = errors.New("thunk has no data cell")
	// ErrEntryIncomplete is returned when a thunk's entry code reports that it did not produce a value.
	ErrEntryIncomplete = errors.New("entry did not produce a value")
	// ErrNoAdjoint is returned when a thunk's code does not implement Adjoint.
	ErrNoAdjoint = errors.New("thunk has no adjoint")
)

// EvalError is returned when forcing a thunk fails.
type EvalError struct {
	Stable ident.Stable
	Op     opcode.Op
	Err    error
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("evaluating %v (%v): %v", e.Stable, e.Op, e.Err)
}

func (e *EvalError) Unwrap() error {
	return e.Err
}
