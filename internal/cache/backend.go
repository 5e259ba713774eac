package cache

import (
	"context"
	"sync"
)

// Backend holds cached elements by string key. Implementations must be safe
// for concurrent use. Load returns stale elements too; freshness is decided
// by the Store. Only Store writes to a Backend.
type Backend[T any] interface {
	Load(ctx context.Context, key string) (CachedElement[T], bool, error)
	Save(ctx context.Context, key string, el CachedElement[T]) error
}

// InMemoryBackend is a mutex-guarded map. Entries live until replaced.
type InMemoryBackend[T any] struct {
	mu   sync.RWMutex
	data map[string]CachedElement[T]
}

func NewInMemoryBackend[T any]() *InMemoryBackend[T] {
	return &InMemoryBackend[T]{data: make(map[string]CachedElement[T])}
}

func (b *InMemoryBackend[T]) Load(_ context.Context, key string) (CachedElement[T], bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	el, ok := b.data[key]
	return el, ok, nil
}

func (b *InMemoryBackend[T]) Save(_ context.Context, key string, el CachedElement[T]) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = el
	return nil
}

// Len returns the number of stored elements, stale ones included.
func (b *InMemoryBackend[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data)
}
