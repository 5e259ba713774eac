package cache

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

const (
	keyPrefix      = "weather-proxy:"
	maxRelativeExp = 30 * 24 * 60 * 60 // memcached treats larger values as absolute unix time
)

// Memcached owns the memcached client shared by every MemcachedBackend.
type Memcached struct {
	client *memcache.Client
}

// NewMemcached creates a client. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// configure the client; both use package defaults if zero.
func NewMemcached(addrs string, timeout time.Duration, maxIdleConns int) *Memcached {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &Memcached{client: client}
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// Ping checks if memcached is reachable. Used for health checks.
func (m *Memcached) Ping() error {
	return m.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (m *Memcached) Close() error {
	return m.client.Close()
}

// MemcachedBackend stores JSON-encoded elements under prefix+key.
// Item expiry follows the element TTL, so memcached drops stale entries on its own.
type MemcachedBackend[T any] struct {
	mc     *Memcached
	prefix string
}

// NewMemcachedBackend returns a backend namespaced by prefix (e.g. the query kind).
func NewMemcachedBackend[T any](mc *Memcached, prefix string) *MemcachedBackend[T] {
	return &MemcachedBackend[T]{mc: mc, prefix: keyPrefix + prefix + ":"}
}

func (b *MemcachedBackend[T]) key(k string) string {
	return b.prefix + k
}

// Load implements Backend. A miss is (zero, false, nil).
func (b *MemcachedBackend[T]) Load(ctx context.Context, key string) (CachedElement[T], bool, error) {
	var el CachedElement[T]
	if err := ctx.Err(); err != nil {
		return el, false, err
	}
	item, err := b.mc.client.Get(b.key(key))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return el, false, nil
		}
		return el, false, err
	}
	if err := json.Unmarshal(item.Value, &el); err != nil {
		return CachedElement[T]{}, false, err
	}
	return el, true, nil
}

// Save implements Backend.
func (b *MemcachedBackend[T]) Save(ctx context.Context, key string, el CachedElement[T]) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(el)
	if err != nil {
		return err
	}
	return b.mc.client.Set(&memcache.Item{
		Key:        b.key(key),
		Value:      raw,
		Expiration: expirationSeconds(el.TTL),
	})
}

// expirationSeconds rounds ttl up to whole seconds, clamped to memcached's relative range.
func expirationSeconds(ttl time.Duration) int32 {
	sec := math.Ceil(ttl.Seconds())
	if sec < 1 {
		return 1
	}
	if sec > maxRelativeExp {
		return maxRelativeExp
	}
	return int32(sec)
}
