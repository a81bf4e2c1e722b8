package heap

import (
	"fmt"

	"myceliumweb.org/lazyrt/ident"
)

// Kind is the kind of an Object
type Kind uint8

const (
	KindHeap Kind = iota
	KindData
	KindThunk
)

func (k Kind) String() string {
	switch k {
	case KindHeap:
		return "heap"
	case KindData:
		return "data"
	case KindThunk:
		return "thunk"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Object is something that can be stored in a Heap.
// Objects are Heaps, Data cells, or types which embed ObjectBase.
type Object interface {
	Stable() ident.Stable
	ObjectKind() Kind
	isObject()
}

var (
	_ Object = &Heap{}
	_ Object = &Data[int]{}
)

// ObjectBase is embedded by Objects defined outside this package.
type ObjectBase struct {
	stable ident.Stable
}

func NewObjectBase(stable ident.Stable) ObjectBase {
	return ObjectBase{stable: stable}
}

func (b ObjectBase) Stable() ident.Stable {
	return b.stable
}

func (ObjectBase) isObject() {}
