// package lazy implements thunks and their evaluation.
//
// A Runtime owns a heap of Data cells and Thunks. Thunks are evaluated on demand by
// forcing a Ref. Forcing runs the thunk's Code once, writes the result into the thunk's
// Data cell, and memoizes it. A thunk which is forced again from its own evaluation path
// is a cycle, and fails with ErrCyclicEvaluation. A thunk which is being evaluated on
// another goroutine is waited for. A thunk which fails is never retried.
//
// Memoization is not scoped to a transaction: once a thunk is Valid it stays Valid for the
// lifetime of the Runtime. Transactions are recorded alongside results.
package lazy

import (
	"context"
	"sync"

	"go.brendoncarroll.net/stdctx/logctx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"myceliumweb.org/lazyrt/heap"
	"myceliumweb.org/lazyrt/ident"
	"myceliumweb.org/lazyrt/internal/ringbuf"
	"myceliumweb.org/lazyrt/opcode"
)

type Config struct {
	// DeadHistory is the number of released references remembered by the heap and by each data cell.
	DeadHistory int
	// JournalSize is the number of recent evaluations remembered.
	JournalSize int
	// Tracer receives a span for every evaluation. If nil, the global tracer is used.
	Tracer trace.Tracer
}

func DefaultConfig() Config {
	return Config{
		DeadHistory: 256,
		JournalSize: 64,
	}
}

// Runtime is one evaluation context.
// Building thunks must be confined to one goroutine; forcing and reading may happen from many.
type Runtime struct {
	src    ident.Source
	heap   *heap.Heap
	cfg    Config
	tracer trace.Tracer

	// waitMu guards the evaluation frames, and which thunks they are evaluating or waiting on.
	waitMu sync.Mutex

	mu      sync.Mutex
	journal ringbuf.RingBuf[Record]
	// consumed maps each reference to the data cells it has been recorded as a consumer of.
	consumed map[ident.Retain][]ident.Stable
}

func New(cfg Config) *Runtime {
	rt := &Runtime{
		cfg:     cfg,
		tracer:  cfg.Tracer,
		journal: ringbuf.New[Record](cfg.JournalSize),

		consumed: make(map[ident.Retain][]ident.Stable),
	}
	if rt.tracer == nil {
		rt.tracer = otel.Tracer("myceliumweb.org/lazyrt")
	}
	rt.heap = heap.NewRoot(&rt.src, cfg.DeadHistory)
	return rt
}

// Txn issues a new transaction.
func (rt *Runtime) Txn() ident.Txn {
	return rt.src.Txn()
}

func (rt *Runtime) Source() *ident.Source {
	return &rt.src
}

func (rt *Runtime) Heap() *heap.Heap {
	return rt.heap
}

// NewData creates a Data cell with this Runtime's history setting. It is not inserted.
func NewData[V any](rt *Runtime, alloc heap.AllocFunc[V]) *heap.Data[V] {
	return heap.NewData(rt.src.NewStable(), alloc, rt.cfg.DeadHistory)
}

// Put inserts th into the heap and returns the first reference to it.
func Put[V any](ctx context.Context, rt *Runtime, th *Thunk[V]) (Ref[V], error) {
	if err := rt.heap.Insert(ctx, th); err != nil {
		return Ref[V]{}, err
	}
	tag := rt.src.NewTag(th.Stable())
	if err := rt.heap.Retain(ctx, tag); err != nil {
		return Ref[V]{}, err
	}
	return Ref[V]{rt: rt, tag: tag}, nil
}

// Build allocates a Data cell and a Thunk running code, inserts both, and returns a reference to the Thunk.
func Build[V any](ctx context.Context, rt *Runtime, alloc heap.AllocFunc[V], code Code[V]) (Ref[V], error) {
	data := NewData(rt, alloc)
	if err := rt.heap.Insert(ctx, data); err != nil {
		return Ref[V]{}, err
	}
	th := NewThunk(rt.src.NewStable(), data.Stable(), code)
	data.AddProducer(th.Stable())
	return Put(ctx, rt, th)
}

// Record is an entry in the evaluation journal.
type Record struct {
	Stable ident.Stable
	Op     opcode.Op
	Txn    ident.Txn
}

// Recent returns the most recent successful evaluations, oldest first.
func (rt *Runtime) Recent() []Record {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.journal.Slice()
}

// JournalCap returns the number of evaluations the journal can hold.
func (rt *Runtime) JournalCap() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.journal.MaxLen()
}

func (rt *Runtime) record(r Record) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.journal.PushBack(r)
}

func (rt *Runtime) addConsumer(r ident.Retain, data ident.Stable) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.consumed[r] = append(rt.consumed[r], data)
}

// dropConsumer removes r from the consumers of every cell it was added to.
func (rt *Runtime) dropConsumer(ctx context.Context, r ident.Retain) error {
	rt.mu.Lock()
	cells := rt.consumed[r]
	delete(rt.consumed, r)
	rt.mu.Unlock()
	for _, stable := range cells {
		cell, err := heap.Lookup[heap.Cell](ctx, rt.heap, stable)
		if err != nil {
			return err
		}
		cell.DropConsumer(r)
	}
	return nil
}

// ThunkInfo describes a Thunk of any result type.
type ThunkInfo interface {
	heap.Object
	State() State
	Op() opcode.Op
	Data() ident.Stable
	FreeVars() []ident.Tag
	ValidIn() (ident.Txn, bool)
}

var _ ThunkInfo = &Thunk[int]{}

// Thunks returns every thunk in the heap, in order of creation.
func (rt *Runtime) Thunks(ctx context.Context) ([]ThunkInfo, error) {
	tags, err := rt.heap.Tags(ctx)
	if err != nil {
		return nil, err
	}
	var ret []ThunkInfo
	for _, tag := range tags {
		obj, err := rt.heap.Get(ctx, tag)
		if err != nil {
			return nil, err
		}
		if ti, ok := obj.(ThunkInfo); ok {
			ret = append(ret, ti)
		}
	}
	logctx.Debug(ctx, "listed thunks", zap.Int("count", len(ret)))
	return ret, nil
}
