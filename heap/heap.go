// package heap implements the object store of a lazyrt evaluation context.
//
// A Heap maps stable tags to Objects. Objects are appended and never replaced.
// The Heap also counts the live references (retain tags) to each object, which
// is how callers learn that every path to an object has been dropped.
package heap

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"go.brendoncarroll.net/stdctx/logctx"
	"go.uber.org/zap"

	"myceliumweb.org/lazyrt/ident"
	"myceliumweb.org/lazyrt/internal/stores"
)

type Heap struct {
	stable ident.Stable
	parent *Heap

	mu    sync.RWMutex
	store *stores.Mem[Object]
	// live holds the retain tags of every live reference, per object.
	live map[ident.Stable]map[ident.Retain]struct{}
	// unreferenced holds objects which were referenced, and then had all their references released.
	unreferenced map[ident.Stable]struct{}
	dead         *simplelru.LRU[ident.Retain, ident.Stable]
}

// New creates a heap with a newly issued stable tag.
// history is the number of released references to remember.
func New(src *ident.Source, history int) *Heap {
	return newHeap(src.NewStable(), nil, history)
}

// NewRoot creates the root heap of a context.
// It must be created before src issues any identifiers, the root heap always has stable tag 0.
func NewRoot(src *ident.Source, history int) *Heap {
	if src.Last() != 0 {
		panic("heap: root heap created after identifiers were issued")
	}
	return newHeap(ident.RootStable, nil, history)
}

// NewChild creates a heap which resolves lookups it cannot satisfy through parent.
func NewChild(src *ident.Source, parent *Heap, history int) *Heap {
	return newHeap(src.NewStable(), parent, history)
}

func newHeap(stable ident.Stable, parent *Heap, history int) *Heap {
	return &Heap{
		stable: stable,
		parent: parent,

		store:        stores.NewMem[Object](),
		live:         make(map[ident.Stable]map[ident.Retain]struct{}),
		unreferenced: make(map[ident.Stable]struct{}),
		dead:         newHistory[ident.Retain, ident.Stable](history),
	}
}

func (h *Heap) Stable() ident.Stable {
	return h.stable
}

func (*Heap) ObjectKind() Kind {
	return KindHeap
}

func (*Heap) isObject() {}

// Parent returns the heap this heap falls back to, or nil.
func (h *Heap) Parent() *Heap {
	return h.parent
}

// Insert adds obj to the heap.
// Insert panics if an object with the same stable tag has already been inserted.
func (h *Heap) Insert(ctx context.Context, obj Object) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	stable := obj.Stable()
	exists, err := h.store.Exists(ctx, stable)
	if err != nil {
		return err
	}
	if exists {
		panic(fmt.Sprintf("heap: object %v inserted twice", stable))
	}
	if err := h.store.Put(ctx, stable, obj); err != nil {
		return err
	}
	logctx.Debug(ctx, "heap insert", zap.Stringer("heap", h.stable), zap.Stringer("object", stable), zap.Stringer("kind", obj.ObjectKind()))
	return nil
}

// Get returns the object at stable, searching parent heaps if necessary.
func (h *Heap) Get(ctx context.Context, stable ident.Stable) (Object, error) {
	for x := h; x != nil; x = x.parent {
		obj, err := x.get(ctx, stable)
		if err == nil {
			return obj, nil
		}
		if !stores.IsNotFound(err) {
			return nil, err
		}
	}
	return nil, ErrObjectNotFound{Stable: stable}
}

func (h *Heap) get(ctx context.Context, stable ident.Stable) (Object, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.store.Get(ctx, stable)
}

// Lookup returns the object at stable, which must have type T.
func Lookup[T Object](ctx context.Context, h *Heap, stable ident.Stable) (T, error) {
	var zero T
	obj, err := h.Get(ctx, stable)
	if err != nil {
		return zero, err
	}
	x, ok := obj.(T)
	if !ok {
		return zero, ErrTypeMismatch{
			Stable: stable,
			Want:   fmt.Sprintf("%T", zero),
			Have:   fmt.Sprintf("%T", obj),
		}
	}
	return x, nil
}

// Len returns the number of objects in this heap, not including parents.
func (h *Heap) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.store.Len()
}

// Tags returns the stable tag of every object in this heap, in order of creation.
func (h *Heap) Tags(ctx context.Context) ([]ident.Stable, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.store.Keys(ctx)
}

// Retain records tag as a live reference to its object.
func (h *Heap) Retain(ctx context.Context, tag ident.Tag) error {
	if _, err := h.Get(ctx, tag.Stable); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	refs, exists := h.live[tag.Stable]
	if !exists {
		refs = make(map[ident.Retain]struct{})
		h.live[tag.Stable] = refs
	}
	refs[tag.Retain] = struct{}{}
	delete(h.unreferenced, tag.Stable)
	return nil
}

// Release drops the live reference tag.
// When the last reference to an object is released, the object is reported by Unreferenced.
func (h *Heap) Release(ctx context.Context, tag ident.Tag) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	refs := h.live[tag.Stable]
	if _, exists := refs[tag.Retain]; !exists {
		return fmt.Errorf("releasing %v: %w", tag, ErrNotRetained)
	}
	delete(refs, tag.Retain)
	if h.dead != nil {
		h.dead.Add(tag.Retain, tag.Stable)
	}
	if len(refs) == 0 {
		delete(h.live, tag.Stable)
		h.unreferenced[tag.Stable] = struct{}{}
		logctx.Debug(ctx, "object unreferenced", zap.Stringer("object", tag.Stable))
	}
	return nil
}

// RefCount returns the number of live references to the object at stable.
func (h *Heap) RefCount(stable ident.Stable) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.live[stable])
}

// Unreferenced returns the objects whose references have all been released.
func (h *Heap) Unreferenced() []ident.Stable {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ret := make([]ident.Stable, 0, len(h.unreferenced))
	for s := range h.unreferenced {
		ret = append(ret, s)
	}
	slices.SortFunc(ret, ident.Stable.Compare)
	return ret
}

// WasReleased returns the object r referred to, if r is among the recently released references.
func (h *Heap) WasReleased(r ident.Retain) (ident.Stable, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.dead == nil {
		return ident.Stable{}, false
	}
	return h.dead.Get(r)
}

// Stats summarizes the contents of a Heap.
type Stats struct {
	Objects      int
	ByKind       map[Kind]int
	LiveRefs     int
	Unreferenced int
	// Consumers is the number of live consumers, summed over every data cell.
	Consumers int
}

func (h *Heap) Stats(ctx context.Context) (Stats, error) {
	tags, err := h.Tags(ctx)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{
		Objects: len(tags),
		ByKind:  make(map[Kind]int),
	}
	for _, tag := range tags {
		obj, err := h.Get(ctx, tag)
		if err != nil {
			return Stats{}, err
		}
		st.ByKind[obj.ObjectKind()]++
		if cell, ok := obj.(Cell); ok {
			st.Consumers += cell.consumerCount()
		}
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, refs := range h.live {
		st.LiveRefs += len(refs)
	}
	st.Unreferenced = len(h.unreferenced)
	return st, nil
}
