package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-proxy/internal/observability"
)

// ErrFetchPanic wraps a value recovered from a panicking fetch.
var ErrFetchPanic = errors.New("fetch panicked")

// Key is a comparable cache key with a stable text form for shared backends.
type Key interface {
	comparable
	String() string
}

// FetchFunc produces a fresh payload. The context it receives is detached from
// the caller that started the fetch.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// StoreConfig configures a Store.
type StoreConfig struct {
	// Name labels metrics (e.g. "current").
	Name string
	TTL  time.Duration
	// FetchTimeout bounds a shared fetch. Zero leaves bounding to the fetch itself.
	FetchTimeout time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// call is the in-flight marker for one key. val and err are written once,
// before done is closed.
type call[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Store is a single-flight TTL cache. For any key at most one fetch runs at a
// time; every concurrent lookup of an absent or stale key waits on it.
type Store[K Key, T any] struct {
	backend      Backend[T]
	name         string
	ttl          time.Duration
	fetchTimeout time.Duration
	now          func() time.Time

	mu    sync.Mutex
	calls map[K]*call[T]
}

// NewStore creates a Store over backend.
func NewStore[K Key, T any](backend Backend[T], cfg StoreConfig) *Store[K, T] {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Store[K, T]{
		backend:      backend,
		name:         cfg.Name,
		ttl:          cfg.TTL,
		fetchTimeout: cfg.FetchTimeout,
		now:          now,
		calls:        make(map[K]*call[T]),
	}
}

// GetOrFetch returns the fresh payload for key, or runs fetch once for all
// concurrent callers of the same key and stores its result. A failed fetch
// stores nothing and its error is returned unchanged to every waiter.
// Cancelling ctx ends only this caller's wait; the shared fetch continues.
func (s *Store[K, T]) GetOrFetch(ctx context.Context, key K, fetch FetchFunc[T]) (T, error) {
	if err := ctx.Err(); err != nil {
		var zero T
		return zero, err
	}
	if el, ok := s.lookup(ctx, key); ok {
		observability.CacheLookupsTotal.WithLabelValues(s.name, "hit").Inc()
		return el.Payload, nil
	}

	s.mu.Lock()
	c, joined := s.calls[key]
	if !joined {
		c = &call[T]{done: make(chan struct{})}
		s.calls[key] = c
	}
	s.mu.Unlock()

	if joined {
		observability.CacheLookupsTotal.WithLabelValues(s.name, "coalesced").Inc()
	} else {
		observability.CacheLookupsTotal.WithLabelValues(s.name, "miss").Inc()
		go s.run(ctx, key, c, fetch)
	}

	select {
	case <-c.done:
		return c.val, c.err
	case <-ctx.Done():
		select {
		case <-c.done:
			return c.val, c.err
		default:
		}
		var zero T
		return zero, ctx.Err()
	}
}

// run executes the fetch for c. The marker is removed only after the result
// is saved, so a later lookup sees either the marker or the stored element.
func (s *Store[K, T]) run(parent context.Context, key K, c *call[T], fetch FetchFunc[T]) {
	ctx := context.WithoutCancel(parent)
	logger := observability.LoggerFrom(ctx).With(zap.String("cache", s.name), zap.Stringer("key", key))
	inFlight := observability.CacheFetchesInFlight.WithLabelValues(s.name)
	inFlight.Inc()
	start := time.Now()
	outcome := "success"

	defer func() {
		if r := recover(); r != nil {
			c.err = fmt.Errorf("%w: %v", ErrFetchPanic, r)
			outcome = "panic"
			logger.Error("cache fetch panicked", zap.Any("panic", r))
		}
		s.mu.Lock()
		delete(s.calls, key)
		s.mu.Unlock()
		close(c.done)
		inFlight.Dec()
		observability.CacheFetchDuration.WithLabelValues(s.name, outcome).Observe(time.Since(start).Seconds())
	}()

	// A fetch may have completed between the caller's lookup and registration.
	if el, ok := s.lookup(ctx, key); ok {
		c.val = el.Payload
		outcome = "recheck_hit"
		return
	}

	if s.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.fetchTimeout)
		defer cancel()
	}

	val, err := fetch(ctx)
	if err != nil {
		c.err = err
		outcome = "error"
		logger.Debug("cache fetch failed", zap.Error(err))
		return
	}

	el := NewCachedElement(val, s.now(), s.ttl)
	if err := s.backend.Save(context.WithoutCancel(parent), key.String(), el); err != nil {
		observability.CacheBackendErrorsTotal.WithLabelValues(s.name, "save").Inc()
		logger.Warn("cache save failed", zap.Error(err))
	}
	c.val = val
}

// lookup returns the element for key if it is present and fresh. Backend read
// errors are treated as misses.
func (s *Store[K, T]) lookup(ctx context.Context, key K) (CachedElement[T], bool) {
	el, ok, err := s.backend.Load(ctx, key.String())
	if err != nil {
		observability.CacheBackendErrorsTotal.WithLabelValues(s.name, "load").Inc()
		observability.LoggerFrom(ctx).Debug("cache load failed", zap.String("cache", s.name), zap.Error(err))
		return CachedElement[T]{}, false
	}
	if !ok || !el.Fresh(s.now()) {
		return el, false
	}
	return el, true
}

// Peek returns the stored element for key regardless of freshness.
func (s *Store[K, T]) Peek(ctx context.Context, key K) (CachedElement[T], bool) {
	el, ok, err := s.backend.Load(ctx, key.String())
	if err != nil {
		return CachedElement[T]{}, false
	}
	return el, ok
}

// InFlight returns the number of keys with a fetch in progress.
func (s *Store[K, T]) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// Name returns the store's metrics label.
func (s *Store[K, T]) Name() string {
	return s.name
}
