package marketdata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/samrddhi/trading-core/internal/model"
)

// flakyFeed serves a fixed quote until failing is set.
type flakyFeed struct {
	quote   model.Quote
	err     error
	failing bool
}

func (f *flakyFeed) GetQuote(_ context.Context, symbol string) (model.Quote, error) {
	if f.failing {
		return model.Quote{}, f.err
	}
	if symbol != f.quote.Symbol {
		return model.Quote{}, ErrNotFound
	}
	return f.quote, nil
}

type mapQuoteStore struct {
	entries map[string][]byte
}

func newMapQuoteStore() *mapQuoteStore {
	return &mapQuoteStore{entries: make(map[string][]byte)}
}

func (s *mapQuoteStore) Set(_ context.Context, key string, data []byte, _ time.Duration) error {
	s.entries[key] = data
	return nil
}

func (s *mapQuoteStore) Get(_ context.Context, key string) ([]byte, error) {
	data, ok := s.entries[key]
	if !ok {
		return nil, errors.New("cache miss")
	}
	return data, nil
}

func quoteAt(symbol string, price string, ts time.Time) model.Quote {
	p, _ := decimal.NewFromString(price)
	return model.Quote{
		Symbol:    symbol,
		Price:     p,
		Bid:       p.Sub(decimal.NewFromFloat(0.01)),
		Ask:       p.Add(decimal.NewFromFloat(0.01)),
		Timestamp: ts,
	}
}

func TestCachedFeedServesFreshCacheDuringOutage(t *testing.T) {
	upstream := &flakyFeed{
		quote: quoteAt("AAPL", "190", time.Now().UTC()),
		err:   ErrUnavailable,
	}
	cf := newCachedFeed(upstream, newMapQuoteStore(), 30*time.Second)
	ctx := context.Background()

	// Healthy read populates the cache.
	q, err := cf.GetQuote(ctx, "AAPL")
	if err != nil {
		t.Fatalf("healthy read: %v", err)
	}
	if !q.Price.Equal(decimal.NewFromInt(190)) {
		t.Fatalf("price = %s, want 190", q.Price)
	}

	// Upstream goes down; the cached quote carries the outage.
	upstream.failing = true
	q, err = cf.GetQuote(ctx, "AAPL")
	if err != nil {
		t.Fatalf("cached read during outage: %v", err)
	}
	if !q.Price.Equal(decimal.NewFromInt(190)) {
		t.Fatalf("cached price = %s, want 190", q.Price)
	}
}

func TestCachedFeedRejectsStaleCache(t *testing.T) {
	st := newMapQuoteStore()
	upstream := &flakyFeed{
		quote: quoteAt("AAPL", "190", time.Now().UTC().Add(-2*time.Minute)),
		err:   ErrUnavailable,
	}
	cf := newCachedFeed(upstream, st, 30*time.Second)
	ctx := context.Background()

	// Seed the cache with a quote already past the staleness bound.
	if _, err := cf.GetQuote(ctx, "AAPL"); err != nil {
		t.Fatalf("seed read: %v", err)
	}

	upstream.failing = true
	_, err := cf.GetQuote(ctx, "AAPL")
	if !errors.Is(err, ErrStaleQuote) {
		t.Fatalf("got %v, want ErrStaleQuote", err)
	}
}

func TestCachedFeedOutageWithoutCacheSurfacesUpstreamError(t *testing.T) {
	upstream := &flakyFeed{failing: true, err: ErrUnavailable}
	cf := newCachedFeed(upstream, newMapQuoteStore(), 30*time.Second)

	_, err := cf.GetQuote(context.Background(), "AAPL")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("got %v, want the upstream ErrUnavailable", err)
	}
	if errors.Is(err, ErrStaleQuote) {
		t.Fatalf("a cold cache is not staleness: %v", err)
	}
}

func TestCachedFeedUnknownSymbolPassthrough(t *testing.T) {
	upstream := &flakyFeed{quote: quoteAt("AAPL", "190", time.Now().UTC())}
	cf := newCachedFeed(upstream, newMapQuoteStore(), 30*time.Second)

	_, err := cf.GetQuote(context.Background(), "ZZZZ")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}
