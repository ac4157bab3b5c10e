package lookup

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/ristretto"
	"golang.org/x/sync/singleflight"
)

const defaultUpstreamTimeout = 3 * time.Second

// Cached decorates a Resolver with a TTL cache of successful lookups.
// Concurrent lookups of the same key share one upstream call, which runs
// detached from any single caller's context. Each caller gives up on its
// own deadline only. Failures are never cached.
type Cached struct {
	next    Resolver
	ttl     time.Duration
	timeout time.Duration
	cache   *ristretto.Cache
	group   singleflight.Group
}

// NewCached wraps next. A non-positive ttl disables expiry; timeout bounds
// the shared upstream call.
func NewCached(next Resolver, ttl, timeout time.Duration) (*Cached, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     1e4,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = defaultUpstreamTimeout
	}
	return &Cached{next: next, ttl: ttl, timeout: timeout, cache: cache}, nil
}

func (c *Cached) ResolveSecurity(ctx context.Context, ticker string) (*Security, error) {
	v, err := c.resolve(ctx, "security:"+ticker, func(uctx context.Context) (interface{}, error) {
		return c.next.ResolveSecurity(uctx, ticker)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Security), nil
}

func (c *Cached) ResolveAccount(ctx context.Context, id int) (*Account, error) {
	v, err := c.resolve(ctx, "account:"+strconv.Itoa(id), func(uctx context.Context) (interface{}, error) {
		return c.next.ResolveAccount(uctx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Account), nil
}

func (c *Cached) resolve(ctx context.Context, key string, fetch func(context.Context) (interface{}, error)) (interface{}, error) {
	if v, ok := c.cache.Get(key); ok {
		return v, nil
	}

	ch := c.group.DoChan(key, func() (interface{}, error) {
		uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()

		v, err := fetch(uctx)
		if err != nil {
			return nil, err
		}
		c.cache.SetWithTTL(key, v, 1, c.ttl)
		return v, nil
	})

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err())
	}
}

// Wait blocks until pending cache writes are visible
func (c *Cached) Wait() {
	c.cache.Wait()
}

// Close releases the cache goroutines
func (c *Cached) Close() {
	c.cache.Close()
}
