package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultTTL bounds how long a cached node entry is served before the next
// miss refreshes it from the authoritative registry.
const DefaultTTL = 30 * time.Minute

type entry struct {
	node    Node
	expires time.Time
}

// Cache is the service identity cache. Reads are cheap and concurrent;
// misses fall through to the registry client under a rate limiter. Stale
// entries self-heal on the next miss, no explicit invalidation exists.
type Cache struct {
	mu      sync.RWMutex
	entries map[uint64]entry

	client  Client
	ttl     time.Duration
	limiter *rate.Limiter
	logger  *slog.Logger
	now     func() time.Time
}

// NewCache builds a cache over the authoritative client. A non-positive ttl
// falls back to DefaultTTL.
func NewCache(client Client, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		entries: make(map[uint64]entry),
		client:  client,
		ttl:     ttl,
		limiter: rate.NewLimiter(rate.Limit(20), 40),
		logger:  logger,
		now:     time.Now,
	}
}

// SetNowFunc overrides the clock, for deterministic expiry tests.
func (c *Cache) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	c.now = now
}

// Resolve returns the node for an id, serving from cache within the TTL and
// refreshing from the registry otherwise.
func (c *Cache) Resolve(ctx context.Context, id uint64) (Node, error) {
	c.mu.RLock()
	e, ok := c.entries[id]
	c.mu.RUnlock()
	if ok && c.now().Before(e.expires) {
		return e.node, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return Node{}, err
	}
	node, err := c.client.ServiceNode(ctx, id)
	if err != nil {
		c.logger.Warn("registry lookup failed",
			slog.Uint64("node_id", id), slog.Any("err", err))
		return Node{}, err
	}

	c.mu.Lock()
	c.entries[id] = entry{node: node, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return node, nil
}

// Endpoint resolves just the network endpoint for a node id.
func (c *Cache) Endpoint(ctx context.Context, id uint64) (string, error) {
	node, err := c.Resolve(ctx, id)
	if err != nil {
		return "", err
	}
	return node.Endpoint, nil
}
