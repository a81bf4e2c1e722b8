// package ident issues the identifiers used by a lazyrt heap.
//
// Every identifier comes from a Source, which is local to one evaluation context.
// Stable tags name objects, Retain tags name individual references to objects,
// and Txns name evaluation episodes. All three draw from the same counter so no two
// of them ever share a value within a context.
package ident

import (
	"cmp"
	"fmt"
	"math"
	"sync/atomic"
)

// Source issues monotonically increasing identifiers.
// The first identifier issued is 1; 0 is reserved for the root heap.
// The zero value is ready to use.
type Source struct {
	n atomic.Uint64
}

// Next returns the next identifier.
// Next panics if the counter would wrap around to 0. The counter is left at its maximum,
// so every later call panics as well.
func (s *Source) Next() uint64 {
	for {
		last := s.n.Load()
		if last == math.MaxUint64 {
			panic("ident: identifier space exhausted")
		}
		if s.n.CompareAndSwap(last, last+1) {
			return last + 1
		}
	}
}

// Last returns the most recently issued identifier, or 0 if none have been issued.
func (s *Source) Last() uint64 {
	return s.n.Load()
}

func (s *Source) NewStable() Stable {
	return Stable{uid: s.Next()}
}

func (s *Source) NewRetain() Retain {
	return Retain{uid: s.Next()}
}

// NewTag returns a Tag for stable, with a freshly minted Retain tag.
func (s *Source) NewTag(stable Stable) Tag {
	return Tag{Stable: stable, Retain: s.NewRetain()}
}

// Txn issues a new transaction.
func (s *Source) Txn() Txn {
	return Txn{uid: s.Next()}
}

// Stable is the permanent identity of a heap object.
type Stable struct {
	uid uint64
}

// RootStable is the Stable tag of the root heap.
var RootStable = Stable{}

func (s Stable) UID() uint64 {
	return s.uid
}

func (s Stable) IsRoot() bool {
	return s.uid == 0
}

func (a Stable) Compare(b Stable) int {
	return cmp.Compare(a.uid, b.uid)
}

func (s Stable) String() string {
	return fmt.Sprintf("s%d", s.uid)
}

// Retain identifies one reference to an object, not the object itself.
type Retain struct {
	uid uint64
}

func (r Retain) UID() uint64 {
	return r.uid
}

func (r Retain) IsZero() bool {
	return r.uid == 0
}

func (r Retain) String() string {
	return fmt.Sprintf("r%d", r.uid)
}

// Tag is a reference to an object: which object, and which reference to it.
type Tag struct {
	Stable Stable
	Retain Retain
}

// CloneRef returns a new reference to the same object.
func (t Tag) CloneRef(src *Source) Tag {
	return Tag{Stable: t.Stable, Retain: src.NewRetain()}
}

// CloneExact returns an identical reference.
func (t Tag) CloneExact() Tag {
	return t
}

func (t Tag) String() string {
	return t.Stable.String() + "/" + t.Retain.String()
}

// Txn identifies one evaluation episode.
type Txn struct {
	uid uint64
}

func (t Txn) UID() uint64 {
	return t.uid
}

func (t Txn) IsZero() bool {
	return t.uid == 0
}

func (t Txn) String() string {
	return fmt.Sprintf("txn%d", t.uid)
}
