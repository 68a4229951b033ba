package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	summaryVersionKey = "reliefops:stock:version"
	summaryKeyPrefix  = "reliefops:stock:summary"
)

// SummaryCache keeps the stock summary in Redis under a versioned key.
// Every committed ledger mutation bumps the version, orphaning old entries.
type SummaryCache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewSummaryCache instantiates the cache helper.
func NewSummaryCache(client *redis.Client, ttl time.Duration) *SummaryCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &SummaryCache{client: client, ttl: ttl}
}

// Version returns the current cache version, initialising when missing.
func (c *SummaryCache) Version(ctx context.Context) (int64, error) {
	ver, err := c.client.Get(ctx, summaryVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, summaryVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, summaryVersionKey).Int64()
	}
	return ver, err
}

// Bump invalidates cached summaries by moving to a new version key.
func (c *SummaryCache) Bump(ctx context.Context) error {
	return c.client.Incr(ctx, summaryVersionKey).Err()
}

// Summaries returns the cached summary or loads it once per version,
// collapsing concurrent misses into a single load.
func (c *SummaryCache) Summaries(ctx context.Context, load func(context.Context) ([]MaterialSummary, error)) ([]MaterialSummary, error) {
	ver, err := c.Version(ctx)
	if err != nil {
		return load(ctx)
	}
	key := fmt.Sprintf("%s:%d", summaryKeyPrefix, ver)
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var out []MaterialSummary
		if err := json.Unmarshal(payload, &out); err == nil {
			return out, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		return load(ctx)
	}

	// The shared load outlives any single caller; each caller still gives up
	// on its own deadline below.
	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		out, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		if raw, err := json.Marshal(out); err == nil {
			// A failed write only costs the next reader a reload.
			_ = c.client.Set(loadCtx, key, raw, c.ttl).Err()
		}
		return out, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]MaterialSummary), nil
	}
}
