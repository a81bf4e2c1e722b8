package lazy

import (
	"sync"

	"myceliumweb.org/lazyrt/ident"
)

// Pass identifies one adjoint pass over a graph.
type Pass struct {
	uid uint64
}

// Pass issues a new adjoint pass.
func (rt *Runtime) Pass() Pass {
	return Pass{uid: rt.src.Next()}
}

func (p Pass) UID() uint64 {
	return p.uid
}

// Sink collects the values produced by adjoint code, keyed by the thunk they belong to.
type Sink struct {
	mu   sync.Mutex
	vals map[ident.Stable][]any
}

func NewSink() *Sink {
	return &Sink{vals: make(map[ident.Stable][]any)}
}

func (s *Sink) Put(stable ident.Stable, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vals[stable] = append(s.vals[stable], v)
}

func (s *Sink) Get(stable ident.Stable) []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]any{}, s.vals[stable]...)
}
