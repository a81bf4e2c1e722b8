package ringbuf

// RingBuf holds the most recent MaxLen values pushed onto it.
// Pushing onto a full RingBuf evicts the oldest value.
type RingBuf[T any] struct {
	buf        []T
	head, tail int
}

func New[T any](n int) RingBuf[T] {
	if n < 1 {
		n = 1
	}
	return RingBuf[T]{buf: make([]T, n)}
}

func (rb *RingBuf[T]) MaxLen() int {
	return len(rb.buf)
}

func (rb *RingBuf[T]) PushBack(val T) {
	if rb.Len() == len(rb.buf) {
		rb.PopFront()
	}
	rb.buf[rb.tail%len(rb.buf)] = val
	rb.tail++
}

// PopFront removes and returns the oldest value.
func (rb *RingBuf[T]) PopFront() T {
	val := rb.At(0)
	var zero T
	rb.buf[rb.head%len(rb.buf)] = zero
	rb.head++
	return val
}

// At returns the ith oldest value.
func (rb *RingBuf[T]) At(i int) T {
	if i < 0 || i >= rb.Len() {
		panic(i)
	}
	return rb.buf[(rb.head+i)%len(rb.buf)]
}

func (rb *RingBuf[T]) Len() int {
	return rb.tail - rb.head
}

// Slice copies the contents, oldest first.
func (rb *RingBuf[T]) Slice() []T {
	ret := make([]T, rb.Len())
	for i := range ret {
		ret[i] = rb.At(i)
	}
	return ret
}
