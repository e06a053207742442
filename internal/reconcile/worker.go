// Package reconcile runs the periodic sweep that converges local order
// state with the execution venue: it resolves lost acknowledgements by
// client order id, drains venue fills through the engine's single fill
// path, cancels remainders the venue reports terminal, and refreshes
// position mark prices.
//
// The sweep never marks an order terminal on venue silence alone — an
// order the venue claims not to know may still be in flight.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samrddhi/trading-core/internal/broker"
	"github.com/samrddhi/trading-core/internal/marketdata"
	"github.com/samrddhi/trading-core/internal/metrics"
	"github.com/samrddhi/trading-core/internal/model"
	"github.com/samrddhi/trading-core/internal/store"
	"github.com/samrddhi/trading-core/internal/trade"
)

const (
	// DefaultInterval is the sweep cadence.
	DefaultInterval = 5 * time.Second

	// maxBackoff caps the sleep growth while the venue is unreachable.
	maxBackoff = 2 * time.Minute
)

// Worker is the reconciliation loop. Create with New, drive with Run.
type Worker struct {
	engine   *trade.Engine
	store    store.Store
	broker   broker.Gateway
	feed     marketdata.Feed
	interval time.Duration

	failures int // consecutive venue-unreachable sweeps
}

func New(engine *trade.Engine, st store.Store, gw broker.Gateway, feed marketdata.Feed, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Worker{
		engine:   engine,
		store:    st,
		broker:   gw,
		feed:     feed,
		interval: interval,
	}
}

// Run sweeps until ctx is cancelled. Venue outages back the loop off
// exponentially; everything else logs and keeps the cadence.
func (w *Worker) Run(ctx context.Context) {
	slog.Info("reconciliation worker started", "interval", w.interval)
	for {
		wait := w.interval
		if w.failures > 0 {
			wait = backoff(w.interval, w.failures)
		}
		select {
		case <-ctx.Done():
			slog.Info("reconciliation worker stopped")
			return
		case <-time.After(wait):
		}

		if err := w.Sweep(ctx); err != nil {
			if errors.Is(err, broker.ErrUnavailable) {
				w.failures++
				metrics.ReconcileCycles.WithLabelValues("venue_unavailable").Inc()
				slog.Warn("venue unreachable, backing off",
					"consecutive", w.failures, "next_wait", backoff(w.interval, w.failures))
				continue
			}
			metrics.ReconcileCycles.WithLabelValues("error").Inc()
			slog.Error("reconciliation sweep failed", "err", err)
			continue
		}
		w.failures = 0
		metrics.ReconcileCycles.WithLabelValues("ok").Inc()
	}
}

func backoff(base time.Duration, failures int) time.Duration {
	d := base
	for i := 1; i < failures && d < maxBackoff; i++ {
		d *= 2
	}
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// Sweep runs one reconciliation pass: orders first, then marks.
// Exported so tests and operational tooling can drive single passes.
func (w *Worker) Sweep(ctx context.Context) error {
	open, err := w.engine.ListAllOpenOrders(ctx)
	if err != nil {
		return err
	}
	metrics.OpenOrders.Set(float64(len(open)))

	for i := range open {
		if err := w.reconcileOrder(ctx, &open[i]); err != nil {
			if errors.Is(err, broker.ErrUnavailable) {
				return err
			}
			slog.Error("order reconciliation failed", "order", open[i].ID, "err", err)
		}
	}

	w.refreshMarks(ctx)
	return nil
}

// reconcileOrder converges one non-terminal order with the venue.
func (w *Worker) reconcileOrder(ctx context.Context, o *model.Order) error {
	bo, err := w.broker.GetOrderByClientID(ctx, o.ID)
	if err != nil {
		if errors.Is(err, broker.ErrUnknownOrder) {
			// An order the venue does not know may still be in flight;
			// silence is never grounds for a terminal state.
			if o.ExternalID == "" {
				slog.Debug("pending order not yet visible venue-side", "order", o.ID)
			} else {
				slog.Warn("venue lost track of an acknowledged order",
					"order", o.ID, "external_id", o.ExternalID)
			}
			return nil
		}
		return err
	}

	// Lost acknowledgement: the submit round trip failed after the venue
	// recorded the order. Adopt the venue's id instead of resubmitting.
	if o.Status == model.StatusPending && o.ExternalID == "" {
		if err := w.engine.RecordAck(ctx, o.AccountID, o.ID, bo.ExternalID); err != nil {
			return err
		}
		slog.Info("recovered lost acknowledgement",
			"order", o.ID, "external_id", bo.ExternalID)
		o.ExternalID = bo.ExternalID
	}

	fills, err := w.broker.PollFills(ctx, bo.ExternalID)
	if err != nil {
		if errors.Is(err, broker.ErrUnknownOrder) {
			return nil
		}
		return err
	}
	for _, f := range fills {
		// Redeliveries are expected; ApplyFill deduplicates by fill id.
		if err := w.engine.ApplyFill(ctx, o.AccountID, o.ID, f); err != nil {
			return err
		}
	}

	if bo.Terminal {
		// Venue is done with this order; cancel any local remainder the
		// fills above did not cover.
		return w.engine.ResolveCancelled(ctx, o.AccountID, o.ID)
	}
	return nil
}

// refreshMarks re-prices every open position from the feed. Mark
// failures are logged and skipped; stale marks self-heal next sweep.
func (w *Worker) refreshMarks(ctx context.Context) {
	accounts, err := w.store.ListAccounts(ctx)
	if err != nil {
		slog.Error("mark sweep: list accounts", "err", err)
		return
	}
	for _, acct := range accounts {
		positions, err := w.store.GetPositions(ctx, acct.ID)
		if err != nil {
			slog.Error("mark sweep: load positions", "account", acct.ID, "err", err)
			continue
		}
		for _, pos := range positions {
			q, err := w.feed.GetQuote(ctx, pos.Symbol)
			if err != nil {
				slog.Warn("mark sweep: quote unavailable, keeping last mark",
					"symbol", pos.Symbol, "err", err)
				continue
			}
			if err := w.engine.MarkToMarket(ctx, acct.ID, pos.Symbol, q.Price); err != nil {
				slog.Error("mark sweep: update mark",
					"account", acct.ID, "symbol", pos.Symbol, "err", err)
			}
		}
	}
}
