// Package coordinator serializes mutating operations per account. Every
// read-modify-write sequence over an account's cash, positions, or orders
// runs inside WithAccount; operations on different accounts proceed fully
// in parallel.
package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrAccountBusy is returned when the per-account lock cannot be acquired
// within the configured timeout. Retryable: one stuck account must not
// starve the rest.
var ErrAccountBusy = errors.New("coordinator: account busy")

// DefaultAcquireTimeout bounds how long WithAccount waits for the lock.
const DefaultAcquireTimeout = 5 * time.Second

// Coordinator hands out one lock per account id. Locks are channel-based
// so acquisition can race a timeout or context cancellation.
type Coordinator struct {
	mu             sync.Mutex
	locks          map[string]chan struct{}
	acquireTimeout time.Duration
}

// New creates a coordinator. A non-positive timeout falls back to
// DefaultAcquireTimeout.
func New(acquireTimeout time.Duration) *Coordinator {
	if acquireTimeout <= 0 {
		acquireTimeout = DefaultAcquireTimeout
	}
	return &Coordinator{
		locks:          make(map[string]chan struct{}),
		acquireTimeout: acquireTimeout,
	}
}

// lockFor returns the lock channel for an account, creating it on first use.
// A buffered channel of size one: a token in the channel means unlocked.
func (c *Coordinator) lockFor(accountID string) chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.locks[accountID]
	if !ok {
		l = make(chan struct{}, 1)
		l <- struct{}{}
		c.locks[accountID] = l
	}
	return l
}

// WithAccount runs fn while holding the account's exclusive lock. The lock
// is released on every exit path, including panics and fn errors. Returns
// ErrAccountBusy if the lock is not acquired within the timeout, or the
// context's error if it is cancelled first.
func (c *Coordinator) WithAccount(ctx context.Context, accountID string, fn func(ctx context.Context) error) error {
	l := c.lockFor(accountID)

	timer := time.NewTimer(c.acquireTimeout)
	defer timer.Stop()

	select {
	case <-l:
	case <-timer.C:
		return ErrAccountBusy
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { l <- struct{}{} }()

	return fn(ctx)
}
