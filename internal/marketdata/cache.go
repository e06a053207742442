package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/samrddhi/trading-core/internal/model"
)

// quoteStore is the byte-level cache behind CachedFeed. Redis in
// production; tests substitute an in-memory map.
type quoteStore interface {
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
}

type redisQuoteStore struct {
	rdb *redis.Client
}

func (r redisQuoteStore) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	return r.rdb.Set(ctx, key, data, ttl).Err()
}

func (r redisQuoteStore) Get(ctx context.Context, key string) ([]byte, error) {
	return r.rdb.Get(ctx, key).Bytes()
}

// CachedFeed wraps an upstream Feed with a quote cache. Fresh upstream
// reads populate the cache; on upstream outage a cached quote is served
// as long as it is younger than maxAge, after which the outage surfaces
// as ErrStaleQuote (callers treat it as unavailable).
type CachedFeed struct {
	upstream Feed
	store    quoteStore
	maxAge   time.Duration
}

// NewCachedFeed creates a Redis-backed cached wrapper around an
// upstream feed.
func NewCachedFeed(upstream Feed, rdb *redis.Client, maxAge time.Duration) *CachedFeed {
	return newCachedFeed(upstream, redisQuoteStore{rdb: rdb}, maxAge)
}

func newCachedFeed(upstream Feed, st quoteStore, maxAge time.Duration) *CachedFeed {
	return &CachedFeed{
		upstream: upstream,
		store:    st,
		maxAge:   maxAge,
	}
}

func quoteKey(symbol string) string {
	return "quote:" + symbol
}

// GetQuote returns the upstream quote, falling back to the cache within
// the staleness bound when the upstream fails.
func (f *CachedFeed) GetQuote(ctx context.Context, symbol string) (model.Quote, error) {
	q, err := f.upstream.GetQuote(ctx, symbol)
	if err == nil {
		f.cache(ctx, q)
		return q, nil
	}
	if errors.Is(err, ErrNotFound) {
		return model.Quote{}, err
	}

	cached, cacheErr := f.lookup(ctx, symbol)
	if cacheErr != nil {
		return model.Quote{}, fmt.Errorf("quote %s: %w", symbol, err)
	}
	age := time.Since(cached.Timestamp)
	if age > f.maxAge {
		return model.Quote{}, fmt.Errorf("quote %s aged %s: %w", symbol, age.Round(time.Millisecond), ErrStaleQuote)
	}

	slog.Warn("serving cached quote, upstream unavailable",
		"symbol", symbol,
		"age", age.Round(time.Millisecond).String(),
		"err", err,
	)
	return cached, nil
}

func (f *CachedFeed) cache(ctx context.Context, q model.Quote) {
	data, err := json.Marshal(q)
	if err != nil {
		return
	}
	// TTL at max age: anything older is unusable anyway.
	if err := f.store.Set(ctx, quoteKey(q.Symbol), data, f.maxAge); err != nil {
		slog.Warn("quote cache write failed", "symbol", q.Symbol, "err", err)
	}
}

func (f *CachedFeed) lookup(ctx context.Context, symbol string) (model.Quote, error) {
	data, err := f.store.Get(ctx, quoteKey(symbol))
	if err != nil {
		return model.Quote{}, err
	}
	var q model.Quote
	if err := json.Unmarshal(data, &q); err != nil {
		return model.Quote{}, err
	}
	return q, nil
}
