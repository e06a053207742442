// Package marketdata defines the quote feed the trading core consumes,
// a simulated feed for development and tests, and a Redis-backed cache
// that bounds quote staleness.
package marketdata

import (
	"context"
	"errors"

	"github.com/samrddhi/trading-core/internal/model"
)

var (
	// ErrNotFound is returned for unknown symbols.
	ErrNotFound = errors.New("marketdata: symbol not found")

	// ErrUnavailable is returned on feed outage. Callers may retry; the
	// cached feed masks outages while its cache is within the max age.
	ErrUnavailable = errors.New("marketdata: feed unavailable")

	// ErrStaleQuote is returned when a cached quote exceeds the max age
	// and the upstream feed cannot refresh it. Treated as unavailable.
	ErrStaleQuote = errors.New("marketdata: quote too stale")
)

// Feed supplies price quotes. Implementations must be safe for concurrent
// use.
type Feed interface {
	GetQuote(ctx context.Context, symbol string) (model.Quote, error)
}
