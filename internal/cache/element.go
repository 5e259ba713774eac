package cache

import "time"

// CachedElement is an immutable stored payload with its creation instant and
// freshness window. A stale element is replaced wholesale, never updated.
type CachedElement[T any] struct {
	Payload  T             `json:"payload"`
	StoredAt time.Time     `json:"storedAt"`
	TTL      time.Duration `json:"ttl"`
}

// NewCachedElement wraps payload stored at the given instant.
func NewCachedElement[T any](payload T, storedAt time.Time, ttl time.Duration) CachedElement[T] {
	return CachedElement[T]{Payload: payload, StoredAt: storedAt, TTL: ttl}
}

// Fresh reports whether now - StoredAt < TTL. A zero TTL is never fresh.
func (e CachedElement[T]) Fresh(now time.Time) bool {
	return now.Sub(e.StoredAt) < e.TTL
}

// Age returns how long ago the element was stored.
func (e CachedElement[T]) Age(now time.Time) time.Duration {
	return now.Sub(e.StoredAt)
}
