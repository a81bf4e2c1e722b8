// package stores provides in-memory object stores keyed by stable tags.
package stores

import (
	"context"
	"errors"
	"fmt"

	"go.brendoncarroll.net/state"
	"go.brendoncarroll.net/state/kv"

	"myceliumweb.org/lazyrt/ident"
)

// ErrNotFound is returned when a key has no entry in the store.
type ErrNotFound struct {
	Key ident.Stable
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("no entry for %v", e.Key)
}

// Mem is an ordered in-memory store.
// Iteration is in order of stable id, which is also the order of creation.
type Mem[V any] struct {
	kv *kv.MemStore[ident.Stable, V]
}

func NewMem[V any]() *Mem[V] {
	return &Mem[V]{
		kv: kv.NewMemStore[ident.Stable, V](func(a, b ident.Stable) int {
			return a.Compare(b)
		}),
	}
}

func (s *Mem[V]) Put(ctx context.Context, k ident.Stable, v V) error {
	return s.kv.Put(ctx, k, v)
}

func (s *Mem[V]) Get(ctx context.Context, k ident.Stable) (V, error) {
	v, err := kv.Get(ctx, s.kv, k)
	if err != nil {
		if state.IsErrNotFound[ident.Stable](err) {
			var zero V
			return zero, ErrNotFound{Key: k}
		}
		return v, err
	}
	return v, nil
}

func (s *Mem[V]) Exists(ctx context.Context, k ident.Stable) (bool, error) {
	return s.kv.Exists(ctx, k)
}

// Keys returns every key in the store, in order.
func (s *Mem[V]) Keys(ctx context.Context) (ret []ident.Stable, _ error) {
	err := kv.ForEach(ctx, s.kv, state.TotalSpan[ident.Stable](), func(k ident.Stable) error {
		ret = append(ret, k)
		return nil
	})
	return ret, err
}

func (s *Mem[V]) Len() int {
	return s.kv.Len()
}

func IsNotFound(err error) bool {
	var target ErrNotFound
	return errors.As(err, &target)
}
