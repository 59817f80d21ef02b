package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Cached puts a ristretto L1 cache in front of another Store. Writes go
// through to the backing store and refresh the cache; reads are served from
// the cache when possible.
type Cached struct {
	backing Store
	cache   *ristretto.Cache[string, []byte]
	ttl     time.Duration
}

// NewCached wraps backing with a cache holding up to maxCostBytes of
// encoded documents, each for at most ttl (zero means no expiry).
func NewCached(backing Store, maxCostBytes int64, ttl time.Duration) (*Cached, error) {
	if maxCostBytes <= 0 {
		maxCostBytes = 32 << 20
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: maxCostBytes / 100 * 10,
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("store: failed to create cache: %w", err)
	}
	return &Cached{backing: backing, cache: c, ttl: ttl}, nil
}

func cacheKey(kind, id string) string {
	return kind + "/" + id
}

func (c *Cached) Put(ctx context.Context, kind, id string, v any) error {
	data, err := encode(kind, id, v)
	if err != nil {
		return err
	}
	if err := c.backing.Put(ctx, kind, id, json.RawMessage(data)); err != nil {
		c.cache.Del(cacheKey(kind, id))
		return err
	}
	c.cache.SetWithTTL(cacheKey(kind, id), data, int64(len(data)), c.ttl)
	return nil
}

func (c *Cached) Get(ctx context.Context, kind, id string, out any) error {
	if data, ok := c.cache.Get(cacheKey(kind, id)); ok {
		return decode(kind, id, data, out)
	}

	var raw json.RawMessage
	if err := c.backing.Get(ctx, kind, id, &raw); err != nil {
		return err
	}
	c.cache.SetWithTTL(cacheKey(kind, id), []byte(raw), int64(len(raw)), c.ttl)
	return decode(kind, id, raw, out)
}

// List always reads the backing store.
func (c *Cached) List(ctx context.Context, kind string) ([]json.RawMessage, error) {
	return c.backing.List(ctx, kind)
}

func (c *Cached) Delete(ctx context.Context, kind, id string) error {
	c.cache.Del(cacheKey(kind, id))
	return c.backing.Delete(ctx, kind, id)
}

// Wait blocks until pending cache writes are applied.
func (c *Cached) Wait() {
	c.cache.Wait()
}

func (c *Cached) Close() error {
	c.cache.Close()
	return c.backing.Close()
}
