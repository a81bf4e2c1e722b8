package heap

import (
	"errors"
	"fmt"

	"myceliumweb.org/lazyrt/ident"
)

var (
	// ErrUninitializedPayload is returned when reading a Data cell whose allocator has never run.
	ErrUninitializedPayload = errors.New("data cell has no payload")
	// ErrMissingAllocator is returned when a Data cell must be materialized but has no allocator.
	ErrMissingAllocator = errors.New("data cell has no allocator")
	// ErrNotRetained is returned when releasing a reference which is not live.
	ErrNotRetained = errors.New("reference is not retained")
)

// ErrObjectNotFound is returned when a stable tag has no entry in the heap.
type ErrObjectNotFound struct {
	Stable ident.Stable
}

func (e ErrObjectNotFound) Error() string {
	return fmt.Sprintf("object %v not found in heap", e.Stable)
}

// ErrTypeMismatch is returned when the object at a stable tag is not of the expected type.
type ErrTypeMismatch struct {
	Stable ident.Stable
	Want   string
	Have   string
}

func (e ErrTypeMismatch) Error() string {
	return fmt.Sprintf("object %v has type %s, expected %s", e.Stable, e.Have, e.Want)
}

func IsObjectNotFound(err error) bool {
	var target ErrObjectNotFound
	return errors.As(err, &target)
}

func IsTypeMismatch(err error) bool {
	var target ErrTypeMismatch
	return errors.As(err, &target)
}
