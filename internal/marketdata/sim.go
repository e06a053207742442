package marketdata

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/samrddhi/trading-core/internal/model"
)

// SimFeed is a deterministic-enough random-walk quote generator for
// development and tests. Each configured symbol drifts from its base
// price on every read; unknown symbols return ErrNotFound.
type SimFeed struct {
	mu     sync.Mutex
	rng    *rand.Rand
	prices map[string]decimal.Decimal
	// Fixed pins a symbol to an exact price (tests).
	fixed map[string]decimal.Decimal
}

// NewSimFeed creates a simulated feed seeded with base prices per symbol.
func NewSimFeed(seed int64, base map[string]float64) *SimFeed {
	prices := make(map[string]decimal.Decimal, len(base))
	for sym, p := range base {
		prices[sym] = decimal.NewFromFloat(p)
	}
	return &SimFeed{
		rng:    rand.New(rand.NewSource(seed)),
		prices: prices,
		fixed:  make(map[string]decimal.Decimal),
	}
}

// SetPrice pins symbol to an exact price, overriding the walk.
func (f *SimFeed) SetPrice(symbol string, price decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fixed[symbol] = price
	f.prices[symbol] = price
}

// GetQuote returns the next tick for symbol: the previous price moved by
// up to ±0.5%, with a one-cent bid/ask spread around it.
func (f *SimFeed) GetQuote(_ context.Context, symbol string) (model.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	price, ok := f.fixed[symbol]
	if !ok {
		last, known := f.prices[symbol]
		if !known {
			return model.Quote{}, ErrNotFound
		}
		drift := decimal.NewFromFloat((f.rng.Float64() - 0.5) / 100)
		price = last.Add(last.Mul(drift)).Round(2)
		if !price.IsPositive() {
			price = decimal.NewFromFloat(0.01)
		}
		f.prices[symbol] = price
	}

	spread := decimal.NewFromFloat(0.01)
	return model.Quote{
		Symbol:    symbol,
		Price:     price,
		Bid:       price.Sub(spread),
		Ask:       price.Add(spread),
		Timestamp: time.Now().UTC(),
	}, nil
}
