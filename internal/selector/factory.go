package selector

import "sync"

// Factory hands out one memoized node per key. Asking twice for the same
// key returns the same node, so its cache survives between callers.
type Factory[S any, K comparable, T any] struct {
	build func(K) *Node[S, T]

	mu    sync.Mutex
	nodes map[K]*Node[S, T]
}

// NewFactory returns a factory that builds nodes with build on first use.
func NewFactory[S any, K comparable, T any](build func(K) *Node[S, T]) *Factory[S, K, T] {
	return &Factory[S, K, T]{build: build, nodes: map[K]*Node[S, T]{}}
}

// Get returns the node for key, building it once.
func (f *Factory[S, K, T]) Get(key K) *Node[S, T] {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n, ok := f.nodes[key]; ok {
		return n
	}
	n := f.build(key)
	f.nodes[key] = n
	return n
}

// Len returns the number of keys built so far.
func (f *Factory[S, K, T]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.nodes)
}
