// package ops contains the operation builders.
//
// Every builder follows the same pattern: capture new references to the operands,
// allocate a Data cell and a Thunk whose Code reads the operands and writes the result,
// and return a reference to the Thunk. The operand references are the Thunk's free variables.
package ops

import (
	"context"
	"errors"

	"go.brendoncarroll.net/exp/slices2"
	"golang.org/x/exp/constraints"

	"myceliumweb.org/lazyrt/heap"
	"myceliumweb.org/lazyrt/ident"
	"myceliumweb.org/lazyrt/lazy"
	"myceliumweb.org/lazyrt/opcode"
)

var (
	ErrNilOperand = errors.New("operand is a zero Ref")
	ErrForeignRef = errors.New("operand belongs to a different runtime")
)

// Number is the set of types Add accepts.
type Number interface {
	constraints.Integer | constraints.Float | constraints.Complex
}

// Constant returns a reference to value.
func Constant[V any](ctx context.Context, rt *lazy.Runtime, value V) (lazy.Ref[V], error) {
	return lazy.Build(ctx, rt, func(ident.Txn) V { return value }, constantCode[V]{value: value})
}

type constantCode[V any] struct {
	value V
}

func (constantCode[V]) Op() opcode.Op {
	return opcode.Constant
}

func (constantCode[V]) FreeVars() []ident.Tag {
	return nil
}

func (c constantCode[V]) Enter(ctx context.Context, txn ident.Txn, out *heap.Data[V]) (bool, error) {
	y, err := out.GetMut(ctx, txn)
	if err != nil {
		return false, err
	}
	defer y.Release()
	y.Set(c.value)
	return true, nil
}

// Add returns a reference to x + y.
func Add[V Number](ctx context.Context, rt *lazy.Runtime, x, y lazy.Ref[V]) (lazy.Ref[V], error) {
	args, err := captureAll(ctx, rt, x, y)
	if err != nil {
		return lazy.Ref[V]{}, err
	}
	return lazy.Build(ctx, rt, zeroAlloc[V], addCode[V]{x: args[0], y: args[1]})
}

type addCode[V Number] struct {
	x, y lazy.Ref[V]
}

func (addCode[V]) Op() opcode.Op {
	return opcode.Add
}

func (c addCode[V]) FreeVars() []ident.Tag {
	return tags(c.x, c.y)
}

func (c addCode[V]) Enter(ctx context.Context, txn ident.Txn, out *heap.Data[V]) (bool, error) {
	x, err := c.x.Pull(ctx, txn)
	if err != nil {
		return false, err
	}
	y, err := c.y.Pull(ctx, txn)
	if err != nil {
		return false, err
	}
	w, err := out.GetMut(ctx, txn)
	if err != nil {
		return false, err
	}
	defer w.Release()
	w.Set(x + y)
	return true, nil
}

// Switch returns a reference to x when cond is false, and to y when cond is true.
// Only the selected operand is evaluated.
func Switch[V any](ctx context.Context, rt *lazy.Runtime, cond lazy.Ref[bool], x, y lazy.Ref[V]) (lazy.Ref[V], error) {
	cond, err := capture(ctx, rt, cond)
	if err != nil {
		return lazy.Ref[V]{}, err
	}
	args, err := captureAll(ctx, rt, x, y)
	if err != nil {
		if rerr := cond.Release(ctx); rerr != nil {
			return lazy.Ref[V]{}, errors.Join(err, rerr)
		}
		return lazy.Ref[V]{}, err
	}
	return lazy.Build(ctx, rt, zeroAlloc[V], switchCode[V]{cond: cond, x: args[0], y: args[1]})
}

type switchCode[V any] struct {
	cond lazy.Ref[bool]
	x, y lazy.Ref[V]
}

func (switchCode[V]) Op() opcode.Op {
	return opcode.Switch
}

func (c switchCode[V]) FreeVars() []ident.Tag {
	return append([]ident.Tag{c.cond.Tag()}, tags(c.x, c.y)...)
}

func (c switchCode[V]) Enter(ctx context.Context, txn ident.Txn, out *heap.Data[V]) (bool, error) {
	cond, err := c.cond.Pull(ctx, txn)
	if err != nil {
		return false, err
	}
	sel := c.x
	if cond {
		sel = c.y
	}
	v, err := sel.Pull(ctx, txn)
	if err != nil {
		return false, err
	}
	w, err := out.GetMut(ctx, txn)
	if err != nil {
		return false, err
	}
	defer w.Release()
	w.Set(v)
	return true, nil
}

// EntryFunc computes a result into out. It returns false if it did not produce a value.
type EntryFunc[V any] func(ctx context.Context, txn ident.Txn, out *heap.Data[V]) (bool, error)

// Func returns a reference to a Thunk which runs entry.
// deps are the references entry reads. They are recorded as free variables, not captured.
// If entry is nil, forcing the Thunk fails with lazy.ErrMissingEntryCode.
func Func[V any](ctx context.Context, rt *lazy.Runtime, alloc heap.AllocFunc[V], deps []ident.Tag, entry EntryFunc[V]) (lazy.Ref[V], error) {
	var code lazy.Code[V]
	if entry != nil {
		code = funcCode[V]{deps: append([]ident.Tag{}, deps...), entry: entry}
	}
	return lazy.Build(ctx, rt, alloc, code)
}

type funcCode[V any] struct {
	deps  []ident.Tag
	entry EntryFunc[V]
}

func (funcCode[V]) Op() opcode.Op {
	return opcode.Func
}

func (c funcCode[V]) FreeVars() []ident.Tag {
	return c.deps
}

func (c funcCode[V]) Enter(ctx context.Context, txn ident.Txn, out *heap.Data[V]) (bool, error) {
	return c.entry(ctx, txn, out)
}

// capture returns a new reference to the thunk r refers to, owned by the thunk being built.
func capture[V any](ctx context.Context, rt *lazy.Runtime, r lazy.Ref[V]) (lazy.Ref[V], error) {
	if r.IsZero() {
		return lazy.Ref[V]{}, ErrNilOperand
	}
	if r.Runtime() != rt {
		return lazy.Ref[V]{}, ErrForeignRef
	}
	return r.Clone(ctx)
}

// captureAll captures every ref. If any capture fails, the refs captured so far are released.
func captureAll[V any](ctx context.Context, rt *lazy.Runtime, refs ...lazy.Ref[V]) ([]lazy.Ref[V], error) {
	ret := make([]lazy.Ref[V], 0, len(refs))
	for _, r := range refs {
		c, err := capture(ctx, rt, r)
		if err != nil {
			errs := []error{err}
			for _, c := range ret {
				errs = append(errs, c.Release(ctx))
			}
			return nil, errors.Join(errs...)
		}
		ret = append(ret, c)
	}
	return ret, nil
}

func tags[V any](refs ...lazy.Ref[V]) []ident.Tag {
	return slices2.Map(refs, func(r lazy.Ref[V]) ident.Tag {
		return r.Tag()
	})
}

func zeroAlloc[V any](ident.Txn) V {
	var zero V
	return zero
}
