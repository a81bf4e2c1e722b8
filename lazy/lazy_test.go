package lazy

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"golang.org/x/sync/errgroup"

	"myceliumweb.org/lazyrt/heap"
	"myceliumweb.org/lazyrt/ident"
	"myceliumweb.org/lazyrt/internal/testutil"
	"myceliumweb.org/lazyrt/opcode"
)

type entryFunc[V any] func(ctx context.Context, txn ident.Txn, out *heap.Data[V]) (bool, error)

type testCode[V any] struct {
	deps  []ident.Tag
	entry entryFunc[V]
}

func (testCode[V]) Op() opcode.Op {
	return opcode.Func
}

func (c testCode[V]) FreeVars() []ident.Tag {
	return c.deps
}

func (c testCode[V]) Enter(ctx context.Context, txn ident.Txn, out *heap.Data[V]) (bool, error) {
	return c.entry(ctx, txn, out)
}

func newTestRuntime(t testing.TB) *Runtime {
	return New(DefaultConfig())
}

func build[V any](t testing.TB, ctx context.Context, rt *Runtime, entry entryFunc[V], deps ...ident.Tag) Ref[V] {
	ref, err := Build(ctx, rt, zero[V], Code[V](testCode[V]{deps: deps, entry: entry}))
	require.NoError(t, err)
	return ref
}

func zero[V any](ident.Txn) V {
	var x V
	return x
}

func write[V any](ctx context.Context, txn ident.Txn, out *heap.Data[V], v V) (bool, error) {
	w, err := out.GetMut(ctx, txn)
	if err != nil {
		return false, err
	}
	defer w.Release()
	w.Set(v)
	return true, nil
}

func constant[V any](t testing.TB, ctx context.Context, rt *Runtime, v V) Ref[V] {
	return build(t, ctx, rt, func(ctx context.Context, txn ident.Txn, out *heap.Data[V]) (bool, error) {
		return write(ctx, txn, out, v)
	})
}

func TestForceMemoized(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t)
	rt := newTestRuntime(t)
	var calls atomic.Int32
	ref := build(t, ctx, rt, func(ctx context.Context, txn ident.Txn, out *heap.Data[int]) (bool, error) {
		calls.Add(1)
		return write(ctx, txn, out, 42)
	})
	th, err := ref.Thunk(ctx)
	require.NoError(t, err)
	require.Equal(t, Empty, th.State())

	txn1 := rt.Txn()
	require.NoError(t, ref.Force(ctx, txn1))
	require.NoError(t, ref.Force(ctx, txn1))
	require.Equal(t, int32(1), calls.Load())
	require.Equal(t, Valid, th.State())

	// a later transaction does not re-run a Valid thunk
	txn2 := rt.Txn()
	require.NoError(t, ref.Force(ctx, txn2))
	require.Equal(t, int32(1), calls.Load())
	validIn, ok := th.ValidIn()
	require.True(t, ok)
	require.Equal(t, txn1, validIn)

	v, err := ref.Read(ctx, txn2)
	require.NoError(t, err)
	require.Equal(t, 42, v)
}

func TestCyclicEvaluation(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t)
	rt := newTestRuntime(t)

	t.Run("Self", func(t *testing.T) {
		var self Ref[int]
		self = build(t, ctx, rt, func(ctx context.Context, txn ident.Txn, out *heap.Data[int]) (bool, error) {
			x, err := self.Pull(ctx, txn)
			if err != nil {
				return false, err
			}
			return write(ctx, txn, out, x+1)
		})
		err := self.Force(ctx, rt.Txn())
		require.ErrorIs(t, err, ErrCyclicEvaluation)
		var ee *EvalError
		require.ErrorAs(t, err, &ee)
		require.Equal(t, self.Stable(), ee.Stable)
		require.Equal(t, opcode.Func, ee.Op)

		th, err := self.Thunk(ctx)
		require.NoError(t, err)
		require.Equal(t, BlackHole, th.State())
		// failed thunks are not retried
		require.ErrorIs(t, self.Force(ctx, rt.Txn()), ErrCyclicEvaluation)
	})
	t.Run("Indirect", func(t *testing.T) {
		var a, b Ref[int]
		a = build(t, ctx, rt, func(ctx context.Context, txn ident.Txn, out *heap.Data[int]) (bool, error) {
			x, err := b.Pull(ctx, txn)
			if err != nil {
				return false, err
			}
			return write(ctx, txn, out, x)
		})
		b = build(t, ctx, rt, func(ctx context.Context, txn ident.Txn, out *heap.Data[int]) (bool, error) {
			x, err := a.Pull(ctx, txn)
			if err != nil {
				return false, err
			}
			return write(ctx, txn, out, x)
		}, a.Tag())
		require.ErrorIs(t, a.Force(ctx, rt.Txn()), ErrCyclicEvaluation)
	})
}

func TestTypeMismatch(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t)
	rt := newTestRuntime(t)
	ref := constant(t, ctx, rt, 1.5)

	wrong := RefFromTag[bool](rt, ref.Tag())
	err := wrong.Force(ctx, rt.Txn())
	require.True(t, heap.IsTypeMismatch(err))
	_, err = wrong.Read(ctx, rt.Txn())
	require.True(t, heap.IsTypeMismatch(err))

	// the correctly typed reference is unaffected
	v, err := ref.Read(ctx, rt.Txn())
	require.NoError(t, err)
	require.Equal(t, 1.5, v)
}

func TestObjectNotFound(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t)
	rt := newTestRuntime(t)
	src := rt.Source()
	ref := RefFromTag[int](rt, src.NewTag(src.NewStable()))
	require.True(t, heap.IsObjectNotFound(ref.Force(ctx, rt.Txn())))
}

func TestMissingEntryCode(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t)
	rt := newTestRuntime(t)
	ref, err := Build[int](ctx, rt, zero[int], nil)
	require.NoError(t, err)

	require.ErrorIs(t, ref.Force(ctx, rt.Txn()), ErrMissingEntryCode)
	th, err := ref.Thunk(ctx)
	require.NoError(t, err)
	require.Equal(t, Empty, th.State())
	require.Equal(t, opcode.Unknown, th.Op())
	require.ErrorIs(t, ref.Force(ctx, rt.Txn()), ErrMissingEntryCode)
}

func TestMissingData(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t)
	rt := newTestRuntime(t)
	th := NewThunk[int](rt.Source().NewStable(), ident.Stable{}, testCode[int]{
		entry: func(ctx context.Context, txn ident.Txn, out *heap.Data[int]) (bool, error) {
			return write(ctx, txn, out, 1)
		},
	})
	ref, err := Put(ctx, rt, th)
	require.NoError(t, err)
	require.ErrorIs(t, ref.Force(ctx, rt.Txn()), ErrMissingData)
}

func TestMissingAllocator(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t)
	rt := newTestRuntime(t)
	ref, err := Build[int](ctx, rt, nil, testCode[int]{
		entry: func(ctx context.Context, txn ident.Txn, out *heap.Data[int]) (bool, error) {
			return write(ctx, txn, out, 1)
		},
	})
	require.NoError(t, err)
	require.ErrorIs(t, ref.Force(ctx, rt.Txn()), heap.ErrMissingAllocator)
}

func TestEntryIncomplete(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t)
	rt := newTestRuntime(t)
	var calls atomic.Int32
	ref := build(t, ctx, rt, func(ctx context.Context, txn ident.Txn, out *heap.Data[int]) (bool, error) {
		calls.Add(1)
		return false, nil
	})
	require.ErrorIs(t, ref.Force(ctx, rt.Txn()), ErrEntryIncomplete)
	// later forces report the first failure without running the entry again
	require.ErrorIs(t, ref.Force(ctx, rt.Txn()), ErrEntryIncomplete)
	_, err := ref.Get(ctx, rt.Txn())
	require.ErrorIs(t, err, ErrEntryIncomplete)
	require.Equal(t, int32(1), calls.Load())
}

func TestGetForcesEmpty(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t)
	rt := newTestRuntime(t)
	ref := constant(t, ctx, rt, "hello")
	view, err := ref.Get(ctx, rt.Txn())
	require.NoError(t, err)
	require.Equal(t, "hello", view.Value())
	view.Release()
}

func TestPullRecordsConsumer(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t)
	rt := newTestRuntime(t)
	x := constant(t, ctx, rt, 2)
	xr, err := x.Clone(ctx)
	require.NoError(t, err)
	y := build(t, ctx, rt, func(ctx context.Context, txn ident.Txn, out *heap.Data[int]) (bool, error) {
		v, err := xr.Pull(ctx, txn)
		if err != nil {
			return false, err
		}
		return write(ctx, txn, out, v*v)
	}, xr.Tag())

	v, err := y.Read(ctx, rt.Txn())
	require.NoError(t, err)
	require.Equal(t, 4, v)

	th, err := x.Thunk(ctx)
	require.NoError(t, err)
	data, err := heap.Lookup[*heap.Data[int]](ctx, rt.Heap(), th.Data())
	require.NoError(t, err)
	require.Equal(t, []ident.Retain{xr.Tag().Retain}, data.Consumers())
	require.Equal(t, []ident.Stable{th.Stable()}, data.Producers())

	yth, err := y.Thunk(ctx)
	require.NoError(t, err)
	require.Equal(t, []ident.Tag{xr.Tag()}, yth.FreeVars())

	st, err := rt.Heap().Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, st.Consumers)

	require.NoError(t, xr.Release(ctx))
	require.Empty(t, data.Consumers())
	require.True(t, data.ConsumerDropped(xr.Tag().Retain))
	st, err = rt.Heap().Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, st.Consumers)

	// the released reference was only a consumer of x's cell
	require.NoError(t, x.Release(ctx))
	require.Empty(t, data.Consumers())
}

func TestConcurrentReads(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t)
	rt := newTestRuntime(t)
	ref := constant(t, ctx, rt, []float64{1, 2, 3})
	txn := rt.Txn()
	require.NoError(t, ref.Force(ctx, txn))

	const n = 32
	results := make([][]float64, n)
	eg, ctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		eg.Go(func() error {
			view, err := ref.Get(ctx, txn)
			if err != nil {
				return err
			}
			defer view.Release()
			results[i] = view.Value()
			return nil
		})
	}
	require.NoError(t, eg.Wait())
	for _, res := range results {
		require.Equal(t, []float64{1, 2, 3}, res)
	}
}

func TestConcurrentForce(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t)
	rt := newTestRuntime(t)
	started := make(chan struct{})
	proceed := make(chan struct{})
	var calls atomic.Int32
	ref := build(t, ctx, rt, func(ctx context.Context, txn ident.Txn, out *heap.Data[int]) (bool, error) {
		calls.Add(1)
		close(started)
		<-proceed
		return write(ctx, txn, out, 7)
	})
	txn := rt.Txn()

	var eg errgroup.Group
	eg.Go(func() error { return ref.Force(ctx, txn) })
	<-started
	// the thunk is in a black hole while the first evaluation runs, later forces wait for it
	results := make([]int, 4)
	for i := range results {
		eg.Go(func() error {
			v, err := ref.Read(ctx, txn)
			results[i] = v
			return err
		})
	}
	close(proceed)
	require.NoError(t, eg.Wait())
	require.Equal(t, []int{7, 7, 7, 7}, results)
	require.Equal(t, int32(1), calls.Load())

	th, err := ref.Thunk(ctx)
	require.NoError(t, err)
	require.Equal(t, Valid, th.State())
}

func TestConcurrentForceFailure(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t)
	rt := newTestRuntime(t)
	started := make(chan struct{})
	proceed := make(chan struct{})
	ref := build(t, ctx, rt, func(ctx context.Context, txn ident.Txn, out *heap.Data[int]) (bool, error) {
		close(started)
		<-proceed
		return false, nil
	})
	txn := rt.Txn()

	errs := make(chan error, 2)
	go func() { errs <- ref.Force(ctx, txn) }()
	<-started
	go func() { errs <- ref.Force(ctx, txn) }()
	close(proceed)
	// the waiting force sees the failure of the evaluation it waited for
	require.ErrorIs(t, <-errs, ErrEntryIncomplete)
	require.ErrorIs(t, <-errs, ErrEntryIncomplete)
}

func TestCrossGoroutineCycle(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t)
	rt := newTestRuntime(t)
	var running sync.WaitGroup
	running.Add(2)
	var a, b Ref[int]
	a = build(t, ctx, rt, func(ctx context.Context, txn ident.Txn, out *heap.Data[int]) (bool, error) {
		running.Done()
		running.Wait()
		x, err := b.Pull(ctx, txn)
		if err != nil {
			return false, err
		}
		return write(ctx, txn, out, x)
	})
	b = build(t, ctx, rt, func(ctx context.Context, txn ident.Txn, out *heap.Data[int]) (bool, error) {
		running.Done()
		running.Wait()
		x, err := a.Pull(ctx, txn)
		if err != nil {
			return false, err
		}
		return write(ctx, txn, out, x)
	}, a.Tag())
	txn := rt.Txn()

	// a and b each wait on the other, one of them must report the cycle instead of blocking
	var eg errgroup.Group
	eg.Go(func() error { return a.Force(ctx, txn) })
	eg.Go(func() error { return b.Force(ctx, txn) })
	require.ErrorIs(t, eg.Wait(), ErrCyclicEvaluation)
	require.ErrorIs(t, a.Force(ctx, txn), ErrCyclicEvaluation)
	require.ErrorIs(t, b.Force(ctx, txn), ErrCyclicEvaluation)
}

func TestCloneRelease(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t)
	rt := newTestRuntime(t)
	a := constant(t, ctx, rt, 1)
	b, err := a.Clone(ctx)
	require.NoError(t, err)
	require.Equal(t, a.Stable(), b.Stable())
	require.NotEqual(t, a.Tag(), b.Tag())

	h := rt.Heap()
	require.Equal(t, 2, h.RefCount(a.Stable()))
	require.NoError(t, a.Release(ctx))
	require.Empty(t, h.Unreferenced())
	require.NoError(t, b.Release(ctx))
	require.Equal(t, []ident.Stable{a.Stable()}, h.Unreferenced())
	require.ErrorIs(t, b.Release(ctx), heap.ErrNotRetained)

	stable, ok := h.WasReleased(b.Tag().Retain)
	require.True(t, ok)
	require.Equal(t, a.Stable(), stable)
}

func TestJournal(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t)
	cfg := DefaultConfig()
	cfg.JournalSize = 2
	rt := New(cfg)
	txn := rt.Txn()
	var refs []Ref[int]
	for i := 0; i < 3; i++ {
		ref := constant(t, ctx, rt, i)
		require.NoError(t, ref.Force(ctx, txn))
		refs = append(refs, ref)
	}
	recent := rt.Recent()
	require.Equal(t, []Record{
		{Stable: refs[1].Stable(), Op: opcode.Func, Txn: txn},
		{Stable: refs[2].Stable(), Op: opcode.Func, Txn: txn},
	}, recent)
	require.Equal(t, 2, rt.JournalCap())
}

func TestTracing(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t)
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { tp.Shutdown(context.Background()) })

	cfg := DefaultConfig()
	cfg.Tracer = tp.Tracer("test")
	rt := New(cfg)
	x := constant(t, ctx, rt, 1)
	y := build(t, ctx, rt, func(ctx context.Context, txn ident.Txn, out *heap.Data[int]) (bool, error) {
		v, err := x.Pull(ctx, txn)
		if err != nil {
			return false, err
		}
		return write(ctx, txn, out, v+1)
	}, x.Tag())
	bad := build(t, ctx, rt, func(ctx context.Context, txn ident.Txn, out *heap.Data[int]) (bool, error) {
		return false, nil
	})

	require.NoError(t, y.Force(ctx, rt.Txn()))
	require.Error(t, bad.Force(ctx, rt.Txn()))

	spans := sr.Ended()
	require.Len(t, spans, 3)
	for _, s := range spans {
		require.Equal(t, "lazyrt.force", s.Name())
	}
	// x is forced inside y, so its span ends first and is a child of y's
	require.Equal(t, spans[1].SpanContext().SpanID(), spans[0].Parent().SpanID())
	require.Equal(t, codes.Error, spans[2].Status().Code)
}

type adjointCode struct {
	testCode[float64]
}

func (adjointCode) Adjoint(ctx context.Context, pass Pass, ref Ref[float64], sink *Sink) error {
	sink.Put(ref.Stable(), 1.0)
	return nil
}

func TestAdjoint(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t)
	rt := newTestRuntime(t)
	withAdj, err := Build[float64](ctx, rt, zero[float64], adjointCode{})
	require.NoError(t, err)
	without := constant(t, ctx, rt, 1.0)

	pass := rt.Pass()
	sink := NewSink()
	require.NoError(t, withAdj.Adjoint(ctx, pass, sink))
	require.Equal(t, []any{1.0}, sink.Get(withAdj.Stable()))
	require.ErrorIs(t, without.Adjoint(ctx, pass, sink), ErrNoAdjoint)
}

func TestThunks(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t)
	rt := newTestRuntime(t)
	a := constant(t, ctx, rt, 1)
	b := constant(t, ctx, rt, true)
	require.NoError(t, a.Force(ctx, rt.Txn()))

	infos, err := rt.Thunks(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	require.Equal(t, a.Stable(), infos[0].Stable())
	require.Equal(t, Valid, infos[0].State())
	require.Equal(t, b.Stable(), infos[1].Stable())
	require.Equal(t, Empty, infos[1].State())
	require.Equal(t, 4, rt.Heap().Len())
}

func TestStateString(t *testing.T) {
	t.Parallel()
	require.Equal(t, "empty", Empty.String())
	require.Equal(t, "blackhole", BlackHole.String())
	require.Equal(t, "valid", Valid.String())
}
