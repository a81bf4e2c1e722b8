// package lazyrt is a lazy, transactional graph reduction runtime.
//
// A Runtime holds a heap of Data cells and Thunks. Thunks are built with the
// operation builders in package ops, and evaluated on demand by forcing a Ref under
// a transaction. Each Thunk runs at most once and its result is memoized.
package lazyrt

import (
	"myceliumweb.org/lazyrt/ident"
	"myceliumweb.org/lazyrt/lazy"
)

type (
	Runtime = lazy.Runtime
	Config  = lazy.Config
)

type Ref[V any] = lazy.Ref[V]

type (
	Txn    = ident.Txn
	Tag    = ident.Tag
	Stable = ident.Stable
	Retain = ident.Retain
)

// New creates a Runtime.
func New(cfg Config) *Runtime {
	return lazy.New(cfg)
}

func DefaultConfig() Config {
	return lazy.DefaultConfig()
}
