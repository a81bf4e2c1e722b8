package lazy

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"myceliumweb.org/lazyrt/heap"
	"myceliumweb.org/lazyrt/ident"
	"myceliumweb.org/lazyrt/opcode"
)

// State is the evaluation state of a Thunk.
type State uint32

const (
	// Empty thunks have never been evaluated.
	Empty State = iota
	// BlackHole thunks are being evaluated, or failed evaluation.
	// A thunk which failed stays in BlackHole, and reports its failure to every later force.
	BlackHole
	// Valid thunks hold their result in their data cell.
	Valid
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case BlackHole:
		return "blackhole"
	case Valid:
		return "valid"
	default:
		return fmt.Sprintf("State(%d)", uint32(s))
	}
}

// Code is what a Thunk runs when it is forced.
type Code[V any] interface {
	Op() opcode.Op
	// FreeVars returns the references this code depends on.
	FreeVars() []ident.Tag
	// Enter computes the result into out.
	// It returns false if no value was produced.
	Enter(ctx context.Context, txn ident.Txn, out *heap.Data[V]) (bool, error)
}

// Adjoint is implemented by Code which can propagate derivatives.
type Adjoint[V any] interface {
	Adjoint(ctx context.Context, pass Pass, ref Ref[V], sink *Sink) error
}

// Thunk is a deferred computation, evaluated at most once.
type Thunk[V any] struct {
	heap.ObjectBase
	data     ident.Stable
	freevars []ident.Tag
	code     Code[V]

	state   atomic.Uint32
	mu      sync.Mutex
	validIn ident.Txn

	// done is closed when evaluation finishes, successfully or not.
	done chan struct{}
	// err is the failure of the evaluation. It is set before done is closed.
	err error
	// owner is the frame evaluating the thunk. It is guarded by Runtime.waitMu.
	owner *frame
}

// NewThunk creates a Thunk which writes its result into the Data cell at data.
// code may be nil, in which case forcing the thunk fails with ErrMissingEntryCode.
// A zero data tag means the thunk has no data cell.
func NewThunk[V any](stable, data ident.Stable, code Code[V]) *Thunk[V] {
	th := &Thunk[V]{
		ObjectBase: heap.NewObjectBase(stable),
		data:       data,
		code:       code,
		done:       make(chan struct{}),
	}
	if code != nil {
		th.freevars = code.FreeVars()
	}
	return th
}

func (*Thunk[V]) ObjectKind() heap.Kind {
	return heap.KindThunk
}

func (th *Thunk[V]) State() State {
	return State(th.state.Load())
}

func (th *Thunk[V]) Op() opcode.Op {
	if th.code == nil {
		return opcode.Unknown
	}
	return th.code.Op()
}

// Data returns the stable tag of the thunk's data cell.
func (th *Thunk[V]) Data() ident.Stable {
	return th.data
}

func (th *Thunk[V]) FreeVars() []ident.Tag {
	return append([]ident.Tag{}, th.freevars...)
}

// ValidIn returns the transaction in which the thunk became Valid.
func (th *Thunk[V]) ValidIn() (ident.Txn, bool) {
	th.mu.Lock()
	defer th.mu.Unlock()
	return th.validIn, th.State() == Valid
}

func (th *Thunk[V]) enterBlackHole() bool {
	return th.state.CompareAndSwap(uint32(Empty), uint32(BlackHole))
}

func (th *Thunk[V]) markValid(txn ident.Txn) {
	th.mu.Lock()
	th.validIn = txn
	th.mu.Unlock()
	th.state.Store(uint32(Valid))
	close(th.done)
}

// markFailed leaves the thunk in BlackHole and releases everyone waiting on it.
func (th *Thunk[V]) markFailed(err error) {
	th.err = err
	close(th.done)
}

// finished returns true once evaluation has succeeded or failed.
func (th *Thunk[V]) finished() bool {
	select {
	case <-th.done:
		return true
	default:
		return false
	}
}
