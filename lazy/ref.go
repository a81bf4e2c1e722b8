package lazy

import (
	"context"

	"go.brendoncarroll.net/stdctx/logctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"myceliumweb.org/lazyrt/heap"
	"myceliumweb.org/lazyrt/ident"
)

// Ref is a reference to a Thunk producing a V.
// Each Ref made by Clone is a distinct reference to the same Thunk.
type Ref[V any] struct {
	rt  *Runtime
	tag ident.Tag
}

// RefFromTag returns a Ref for an existing reference.
// It does not register a new reference with the heap.
func RefFromTag[V any](rt *Runtime, tag ident.Tag) Ref[V] {
	return Ref[V]{rt: rt, tag: tag}
}

func (r Ref[V]) Tag() ident.Tag {
	return r.tag
}

func (r Ref[V]) Stable() ident.Stable {
	return r.tag.Stable
}

func (r Ref[V]) Runtime() *Runtime {
	return r.rt
}

func (r Ref[V]) IsZero() bool {
	return r.rt == nil
}

// Clone returns a new reference to the same Thunk.
func (r Ref[V]) Clone(ctx context.Context) (Ref[V], error) {
	tag := r.tag.CloneRef(&r.rt.src)
	if err := r.rt.heap.Retain(ctx, tag); err != nil {
		return Ref[V]{}, err
	}
	return Ref[V]{rt: r.rt, tag: tag}, nil
}

// Release drops this reference.
// The reference is also dropped from every data cell it was recorded as a consumer of.
func (r Ref[V]) Release(ctx context.Context) error {
	if err := r.rt.heap.Release(ctx, r.tag); err != nil {
		return err
	}
	return r.rt.dropConsumer(ctx, r.tag.Retain)
}

// Thunk returns the Thunk r refers to.
func (r Ref[V]) Thunk(ctx context.Context) (*Thunk[V], error) {
	return heap.Lookup[*Thunk[V]](ctx, r.rt.heap, r.tag.Stable)
}

// Force evaluates the Thunk if it has not been evaluated.
func (r Ref[V]) Force(ctx context.Context, txn ident.Txn) error {
	th, err := r.Thunk(ctx)
	if err != nil {
		return err
	}
	return force(ctx, r.rt, txn, th)
}

// Get returns a read locked view of the Thunk's result, forcing it if it has not been evaluated.
// The caller must Release the view.
func (r Ref[V]) Get(ctx context.Context, txn ident.Txn) (*heap.ReadView[V], error) {
	th, err := r.Thunk(ctx)
	if err != nil {
		return nil, err
	}
	if err := force(ctx, r.rt, txn, th); err != nil {
		return nil, err
	}
	data, err := dataOf(ctx, r.rt, th)
	if err != nil {
		return nil, err
	}
	return data.Get(ctx, txn)
}

// Read returns a copy of the Thunk's result, forcing it if it is Empty.
func (r Ref[V]) Read(ctx context.Context, txn ident.Txn) (V, error) {
	view, err := r.Get(ctx, txn)
	if err != nil {
		var zero V
		return zero, err
	}
	defer view.Release()
	return view.Value(), nil
}

// Pull forces the Thunk and reads its result on behalf of a consumer.
// The reference is recorded as a consumer of the Thunk's data cell.
// Entry code uses Pull to read its operands.
func (r Ref[V]) Pull(ctx context.Context, txn ident.Txn) (V, error) {
	var zero V
	th, err := r.Thunk(ctx)
	if err != nil {
		return zero, err
	}
	if err := force(ctx, r.rt, txn, th); err != nil {
		return zero, err
	}
	data, err := dataOf(ctx, r.rt, th)
	if err != nil {
		return zero, err
	}
	if data.AddConsumer(r.tag.Retain) {
		r.rt.addConsumer(r.tag.Retain, data.Stable())
	}
	view, err := data.Get(ctx, txn)
	if err != nil {
		return zero, err
	}
	defer view.Release()
	return view.Value(), nil
}

// Adjoint runs the adjoint code of the Thunk, if it has any.
func (r Ref[V]) Adjoint(ctx context.Context, pass Pass, sink *Sink) error {
	th, err := r.Thunk(ctx)
	if err != nil {
		return err
	}
	adj, ok := th.code.(Adjoint[V])
	if !ok {
		return &EvalError{Stable: th.Stable(), Op: th.Op(), Err: ErrNoAdjoint}
	}
	return adj.Adjoint(ctx, pass, r, sink)
}

func dataOf[V any](ctx context.Context, rt *Runtime, th *Thunk[V]) (*heap.Data[V], error) {
	if th.data.IsRoot() {
		return nil, &EvalError{Stable: th.Stable(), Op: th.Op(), Err: ErrMissingData}
	}
	return heap.Lookup[*heap.Data[V]](ctx, rt.heap, th.data)
}

// force runs the evaluation protocol for th.
// A thunk which fails is left in the BlackHole state.
// If th is being evaluated by another goroutine, force waits for that evaluation to finish,
// unless waiting would never end, which is a cycle.
func force[V any](ctx context.Context, rt *Runtime, txn ident.Txn, th *Thunk[V]) error {
	if th.State() == Valid {
		return nil
	}
	if th.code == nil {
		return &EvalError{Stable: th.Stable(), Op: th.Op(), Err: ErrMissingEntryCode}
	}
	parent := frameFrom(ctx)
	rt.waitMu.Lock()
	if !th.enterBlackHole() {
		if th.State() == Valid {
			rt.waitMu.Unlock()
			return nil
		}
		owner := th.owner
		if owner != nil && waitWouldCycle(parent, owner) {
			rt.waitMu.Unlock()
			logctx.Warnf(ctx, "cyclic evaluation of %v in %v", th.Stable(), txn)
			return &EvalError{Stable: th.Stable(), Op: th.Op(), Err: ErrCyclicEvaluation}
		}
		if parent != nil {
			parent.blockedOn = owner
		}
		rt.waitMu.Unlock()
		return wait(ctx, rt, parent, th)
	}
	fr := &frame{parent: parent}
	th.owner = fr
	if parent != nil {
		parent.child = fr
	}
	rt.waitMu.Unlock()
	defer func() {
		rt.waitMu.Lock()
		defer rt.waitMu.Unlock()
		th.owner = nil
		if parent != nil && parent.child == fr {
			parent.child = nil
		}
	}()

	ctx, span := rt.tracer.Start(ctx, "lazyrt.force", trace.WithAttributes(
		attribute.Int64("lazyrt.thunk", int64(th.Stable().UID())),
		attribute.String("lazyrt.op", th.Op().String()),
		attribute.Int64("lazyrt.txn", int64(txn.UID())),
	))
	defer span.End()
	logctx.Debug(ctx, "force", zap.Stringer("thunk", th.Stable()), zap.Stringer("op", th.Op()), zap.Stringer("txn", txn))

	if err := enter(withFrame(ctx, fr), rt, txn, th); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logctx.Error(ctx, "evaluation failed", zap.Stringer("thunk", th.Stable()), zap.Error(err))
		th.markFailed(err)
		return err
	}
	th.markValid(txn)
	rt.record(Record{Stable: th.Stable(), Op: th.Op(), Txn: txn})
	logctx.Debug(ctx, "valid", zap.Stringer("thunk", th.Stable()))
	return nil
}

// wait blocks until another evaluation of th finishes, and returns its outcome.
func wait[V any](ctx context.Context, rt *Runtime, me *frame, th *Thunk[V]) error {
	if me != nil {
		defer func() {
			rt.waitMu.Lock()
			defer rt.waitMu.Unlock()
			me.blockedOn = nil
		}()
	}
	if !th.finished() {
		logctx.Debug(ctx, "waiting", zap.Stringer("thunk", th.Stable()))
	}
	select {
	case <-th.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if th.State() == Valid {
		return nil
	}
	return th.err
}

func enter[V any](ctx context.Context, rt *Runtime, txn ident.Txn, th *Thunk[V]) error {
	data, err := dataOf(ctx, rt, th)
	if err != nil {
		return err
	}
	ok, err := th.code.Enter(ctx, txn, data)
	if err != nil {
		return &EvalError{Stable: th.Stable(), Op: th.Op(), Err: err}
	}
	if !ok {
		return &EvalError{Stable: th.Stable(), Op: th.Op(), Err: ErrEntryIncomplete}
	}
	return nil
}
