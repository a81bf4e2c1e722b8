package heap

import (
	"cmp"
	"context"
	"sync"
	"sync/atomic"

	"go.brendoncarroll.net/stdctx/logctx"
	"go.uber.org/zap"

	"myceliumweb.org/lazyrt/ident"
)

// AllocFunc produces the initial payload of a Data cell.
type AllocFunc[V any] func(txn ident.Txn) V

// Cell is a Data cell of any payload type.
type Cell interface {
	Object
	DropConsumer(r ident.Retain) bool
	ConsumerDropped(r ident.Retain) bool
	consumerCount() int
}

var _ Cell = &Data[int]{}

// Data is a lazily allocated payload slot.
//
// The payload is produced by the allocator on the first call to GetMut, and is never unset after that.
// Any number of readers may hold a ReadView at once; a WriteView is exclusive.
type Data[V any] struct {
	stable ident.Stable
	alloc  AllocFunc[V]
	allocs atomic.Uint32

	mu      sync.RWMutex
	set     bool
	payload V
	// allocTxn is the transaction in which the payload was materialized.
	allocTxn ident.Txn

	consumers depSet[ident.Retain]
	producers depSet[ident.Stable]
}

// NewData creates a Data cell. alloc may be nil, in which case GetMut will fail
// with ErrMissingAllocator.
// history is the number of dropped consumers and producers to remember.
func NewData[V any](stable ident.Stable, alloc AllocFunc[V], history int) *Data[V] {
	d := &Data[V]{
		stable: stable,
		alloc:  alloc,
	}
	d.consumers.init(history)
	d.producers.init(history)
	return d
}

func (d *Data[V]) Stable() ident.Stable {
	return d.stable
}

func (*Data[V]) ObjectKind() Kind {
	return KindData
}

func (*Data[V]) isObject() {}

// Get returns a read locked view of the payload.
func (d *Data[V]) Get(ctx context.Context, txn ident.Txn) (*ReadView[V], error) {
	d.mu.RLock()
	if !d.set {
		d.mu.RUnlock()
		return nil, ErrUninitializedPayload
	}
	return &ReadView[V]{d: d}, nil
}

// GetMut returns a write locked view of the payload, running the allocator if
// the payload has not been materialized.
func (d *Data[V]) GetMut(ctx context.Context, txn ident.Txn) (*WriteView[V], error) {
	d.mu.Lock()
	if !d.set {
		if d.alloc == nil {
			d.mu.Unlock()
			return nil, ErrMissingAllocator
		}
		logctx.Debug(ctx, "materializing data", zap.Stringer("data", d.stable), zap.Stringer("txn", txn))
		d.payload = d.alloc(txn)
		d.allocs.Add(1)
		d.allocTxn = txn
		d.set = true
	}
	return &WriteView[V]{d: d}, nil
}

// Materialized returns true if the payload has been allocated.
func (d *Data[V]) Materialized() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.set
}

// AllocTxn returns the transaction which materialized the payload.
func (d *Data[V]) AllocTxn() ident.Txn {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.allocTxn
}

// AllocCount returns the number of times the allocator has run. It is at most 1.
func (d *Data[V]) AllocCount() int {
	return int(d.allocs.Load())
}

// AddConsumer records that the reference r reads this cell.
// It returns false if r was already recorded.
func (d *Data[V]) AddConsumer(r ident.Retain) bool {
	return d.consumers.add(r)
}

// DropConsumer records that the reference r no longer reads this cell.
func (d *Data[V]) DropConsumer(r ident.Retain) bool {
	return d.consumers.drop(r)
}

// ConsumerDropped returns true if r was a consumer and has been dropped recently.
func (d *Data[V]) ConsumerDropped(r ident.Retain) bool {
	return d.consumers.isDead(r)
}

func (d *Data[V]) consumerCount() int {
	return d.consumers.len()
}

// Consumers returns the live consumers, in the order they were issued.
func (d *Data[V]) Consumers() []ident.Retain {
	return d.consumers.snapshot(func(a, b ident.Retain) int {
		return cmp.Compare(a.UID(), b.UID())
	})
}

// AddProducer records that the thunk at s writes into this cell.
func (d *Data[V]) AddProducer(s ident.Stable) bool {
	return d.producers.add(s)
}

func (d *Data[V]) DropProducer(s ident.Stable) bool {
	return d.producers.drop(s)
}

func (d *Data[V]) Producers() []ident.Stable {
	return d.producers.snapshot(ident.Stable.Compare)
}

// ReadView holds a read lock on a Data cell until it is released.
type ReadView[V any] struct {
	d        *Data[V]
	released bool
}

func (v *ReadView[V]) Value() V {
	if v.released {
		panic("heap: use of released ReadView")
	}
	return v.d.payload
}

// Release unlocks the cell. Calling Release more than once has no effect.
func (v *ReadView[V]) Release() {
	if v.released {
		return
	}
	v.released = true
	v.d.mu.RUnlock()
}

// WriteView holds the write lock on a Data cell until it is released.
type WriteView[V any] struct {
	d        *Data[V]
	released bool
}

func (v *WriteView[V]) Value() V {
	return *v.Ptr()
}

func (v *WriteView[V]) Set(x V) {
	*v.Ptr() = x
}

// Ptr returns a pointer to the payload, valid until Release.
func (v *WriteView[V]) Ptr() *V {
	if v.released {
		panic("heap: use of released WriteView")
	}
	return &v.d.payload
}

// Release unlocks the cell. Calling Release more than once has no effect.
func (v *WriteView[V]) Release() {
	if v.released {
		return
	}
	v.released = true
	v.d.mu.Unlock()
}
