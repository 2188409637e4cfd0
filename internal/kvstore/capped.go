package kvstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Capped wraps a Store with a hard capacity ceiling, the way a browser's
// localStorage refuses writes past its quota.
//
// Sizes are tracked per key so a write is checked against the ceiling by its
// delta: overwriting a key with a smaller value always succeeds.
type Capped struct {
	inner Store
	limit int64

	mu    sync.Mutex
	sizes map[string]int64
	used  int64
}

// NewCapped scans inner once to seed usage accounting.
func NewCapped(ctx context.Context, inner Store, limit int64) (*Capped, error) {
	c := &Capped{
		inner: inner,
		limit: limit,
		sizes: make(map[string]int64),
	}

	keys, err := inner.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	for _, k := range keys {
		v, found, err := inner.Get(ctx, k)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", k, err)
		}
		if !found {
			continue
		}
		size := EntrySize(k, v)
		c.sizes[k] = size
		c.used += size
	}

	if c.used > limit {
		slog.Warn("Store already above its ceiling", "used", c.used, "limit", limit)
	}
	return c, nil
}

// Limit is the configured ceiling in bytes.
func (c *Capped) Limit() int64 {
	return c.limit
}

func (c *Capped) Get(ctx context.Context, key string) (string, bool, error) {
	return c.inner.Get(ctx, key)
}

func (c *Capped) Set(ctx context.Context, key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := EntrySize(key, value)
	delta := size - c.sizes[key]
	if delta > 0 && c.used+delta > c.limit {
		return fmt.Errorf("%w: writing %s needs %d bytes, %d of %d used", ErrQuotaExceeded, key, delta, c.used, c.limit)
	}

	if err := c.inner.Set(ctx, key, value); err != nil {
		return err
	}
	c.sizes[key] = size
	c.used += delta
	return nil
}

func (c *Capped) Remove(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.inner.Remove(ctx, key); err != nil {
		return err
	}
	c.used -= c.sizes[key]
	delete(c.sizes, key)
	return nil
}

func (c *Capped) Keys(ctx context.Context) ([]string, error) {
	return c.inner.Keys(ctx)
}

// Usage implements Sizer from the tracked sizes, without touching inner.
func (c *Capped) Usage(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used, nil
}

// Close closes inner if it holds resources.
func (c *Capped) Close() error {
	if cl, ok := c.inner.(Closer); ok {
		return cl.Close()
	}
	return nil
}
