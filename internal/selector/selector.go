// Package selector provides memoized derived-state nodes over an immutable
// state snapshot. A node caches its last result and recomputes only when the
// identity of one of its direct inputs changes.
package selector

import (
	"reflect"
	"sync"
	"sync/atomic"
)

// Selector derives a T from a state S.
type Selector[S, T any] interface {
	Select(state S) T
}

// Func is a leaf selector, typically a projection of one state field.
type Func[S, T any] func(state S) T

// Select calls f.
func (f Func[S, T]) Select(state S) T { return f(state) }

// Node is a memoized selector. It is safe for concurrent use.
type Node[S, T any] struct {
	inputs  []func(S) any
	compute func(args []any) T

	mu    sync.Mutex
	last  []any
	value T
	valid bool
	runs  atomic.Int64
}

func newNode[S, T any](inputs []func(S) any, compute func([]any) T) *Node[S, T] {
	return &Node[S, T]{inputs: inputs, compute: compute}
}

// Select returns the cached result when every input is identical to the
// previous call, and recomputes otherwise.
func (n *Node[S, T]) Select(state S) T {
	args := make([]any, len(n.inputs))
	for i, in := range n.inputs {
		args[i] = in(state)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.valid && sameArgs(n.last, args) {
		return n.value
	}
	n.value = n.compute(args)
	n.last = args
	n.valid = true
	n.runs.Add(1)
	return n.value
}

// Recomputations reports how many times the node has computed its value.
func (n *Node[S, T]) Recomputations() int64 { return n.runs.Load() }

// Reset drops the cached value.
func (n *Node[S, T]) Reset() {
	n.mu.Lock()
	n.valid = false
	n.last = nil
	n.mu.Unlock()
}

func input[S, A any](s Selector[S, A]) func(S) any {
	return func(state S) any { return s.Select(state) }
}

// New1 derives a node from one input.
func New1[S, A, T any](a Selector[S, A], fn func(A) T) *Node[S, T] {
	return newNode([]func(S) any{input(a)}, func(args []any) T {
		return fn(as[A](args[0]))
	})
}

// New2 derives a node from two inputs.
func New2[S, A, B, T any](a Selector[S, A], b Selector[S, B], fn func(A, B) T) *Node[S, T] {
	return newNode([]func(S) any{input(a), input(b)}, func(args []any) T {
		return fn(as[A](args[0]), as[B](args[1]))
	})
}

// New3 derives a node from three inputs.
func New3[S, A, B, C, T any](a Selector[S, A], b Selector[S, B], c Selector[S, C], fn func(A, B, C) T) *Node[S, T] {
	return newNode([]func(S) any{input(a), input(b), input(c)}, func(args []any) T {
		return fn(as[A](args[0]), as[B](args[1]), as[C](args[2]))
	})
}

// New4 derives a node from four inputs.
func New4[S, A, B, C, D, T any](a Selector[S, A], b Selector[S, B], c Selector[S, C], d Selector[S, D], fn func(A, B, C, D) T) *Node[S, T] {
	return newNode([]func(S) any{input(a), input(b), input(c), input(d)}, func(args []any) T {
		return fn(as[A](args[0]), as[B](args[1]), as[C](args[2]), as[D](args[3]))
	})
}

// as converts a stored argument back to its static type; a nil interface
// becomes the zero value.
func as[T any](v any) T {
	if v == nil {
		var zero T
		return zero
	}
	return v.(T)
}

func sameArgs(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Identical(a[i], b[i]) {
			return false
		}
	}
	return true
}

// Identical reports reference equality: pointers, maps and channels by
// address, slices by backing array and length, other comparable values by
// ==. Funcs and other non-comparable values are never identical.
func Identical(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() {
		return false
	}
	switch va.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.UnsafePointer:
		return va.Pointer() == vb.Pointer()
	case reflect.Func:
		return false
	case reflect.Slice:
		if va.IsNil() || vb.IsNil() {
			return va.IsNil() && vb.IsNil()
		}
		return va.Len() == vb.Len() && va.Pointer() == vb.Pointer()
	}
	if !va.Comparable() {
		return false
	}
	return a == b
}
