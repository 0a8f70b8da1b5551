package pipeline

import "sync"

// Memo holds a value resolved once on first use, e.g. a package name read
// from disk. Each owner keeps its own Memo; there is no shared cache. A
// failed resolution is not remembered, so the next Get retries.
type Memo[T any] struct {
	mu       sync.Mutex
	resolve  func() (T, error)
	value    T
	resolved bool
}

// NewMemo creates a Memo backed by resolve.
func NewMemo[T any](resolve func() (T, error)) *Memo[T] {
	return &Memo[T]{resolve: resolve}
}

// Get returns the memoized value, resolving it on first call.
func (m *Memo[T]) Get() (T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.resolved {
		return m.value, nil
	}

	value, err := m.resolve()
	if err != nil {
		var zero T
		return zero, err
	}

	m.value = value
	m.resolved = true
	return value, nil
}

// Resolved reports whether Get has succeeded at least once.
func (m *Memo[T]) Resolved() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resolved
}
