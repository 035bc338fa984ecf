// Package cache stores candidate document sets in Redis, keyed by the index
// build and the planned pattern, so repeated searches against an unchanged
// index skip posting-list evaluation.
package cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/codesearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/codesearch/pkg/logger"
	pkgredis "github.com/Adithya-Monish-Kumar-K/codesearch/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/codesearch/pkg/resilience"
)

const keyPrefix = "csearch:candidates:"

// Store is the subset of the Redis client the cache uses.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// CandidateCache is a read-through cache of candidate sets. Redis failures
// are logged and treated as misses; after repeated failures the circuit
// breaker stops contacting Redis for a while.
type CandidateCache struct {
	store   Store
	ttl     time.Duration
	timeout time.Duration
	breaker *resilience.CircuitBreaker
	group   singleflight.Group
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

func New(store Store, cfg config.RedisConfig) *CandidateCache {
	return &CandidateCache{
		store:   store,
		ttl:     cfg.CacheTTL,
		timeout: cfg.Timeout,
		breaker: resilience.NewCircuitBreaker("candidate-cache", resilience.CircuitBreakerConfig{
			FailureThreshold: 3,
			ResetTimeout:     30 * time.Second,
		}),
		logger: logger.WithComponent("candidate-cache"),
	}
}

// Key identifies a candidate set. Candidates depend only on the index build
// and the planned pattern.
func Key(buildID uuid.UUID, caseInsensitive bool, pattern string) string {
	fold := "0"
	if caseInsensitive {
		fold = "1"
	}
	h := sha256.Sum256([]byte(buildID.String() + "|" + fold + "|" + pattern))
	return fmt.Sprintf("%s%x", keyPrefix, h[:16])
}

// Get returns the cached candidates for key.
func (c *CandidateCache) Get(ctx context.Context, key string) ([]uint32, bool) {
	var data []byte
	err := c.do(ctx, "cache get", func(ctx context.Context) error {
		var err error
		data, err = c.store.Get(ctx, key)
		if pkgredis.IsNilError(err) {
			data, err = nil, nil
		}
		return err
	})
	if err != nil {
		c.logger.Warn("cache get failed", "key", key, "error", err)
		c.misses.Add(1)
		return nil, false
	}
	if data == nil {
		c.misses.Add(1)
		return nil, false
	}
	docs, err := decode(data)
	if err != nil {
		c.logger.Error("cache decode failed", "key", key, "error", err)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	c.logger.Debug("cache hit", "key", key, "candidates", len(docs))
	return docs, true
}

// Set stores docs under key.
func (c *CandidateCache) Set(ctx context.Context, key string, docs []uint32) {
	data, err := encode(docs)
	if err != nil {
		c.logger.Error("cache encode failed", "key", key, "error", err)
		return
	}
	err = c.do(ctx, "cache set", func(ctx context.Context) error {
		return c.store.Set(ctx, key, data, c.ttl)
	})
	if err != nil {
		c.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached candidates for key, or computes and
// stores them. Concurrent callers for the same key share one computation.
// The boolean reports a cache hit.
func (c *CandidateCache) GetOrCompute(ctx context.Context, key string, compute func() ([]uint32, error)) ([]uint32, bool, error) {
	if docs, ok := c.Get(ctx, key); ok {
		return docs, true, nil
	}
	val, err, _ := c.group.Do(key, func() (any, error) {
		docs, err := compute()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, key, docs)
		return docs, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.([]uint32), false, nil
}

// Invalidate deletes every cached candidate set.
func (c *CandidateCache) Invalidate(ctx context.Context) error {
	deleted, err := c.store.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return nil
}

func (c *CandidateCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *CandidateCache) do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	return c.breaker.Execute(func() error {
		return resilience.WithTimeout(ctx, c.timeout, name, fn)
	})
}

// encode serialises docs as a roaring bitmap, which is far smaller than a
// plain list for dense candidate sets.
func encode(docs []uint32) ([]byte, error) {
	bm := roaring.BitmapOf(docs...)
	bm.RunOptimize()
	var buf bytes.Buffer
	if _, err := bm.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(data []byte) ([]uint32, error) {
	bm := roaring.New()
	if _, err := bm.ReadFrom(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return bm.ToArray(), nil
}
