package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestWithAccount_SerializesSameAccount(t *testing.T) {
	c := New(time.Second)
	var counter int // unguarded on purpose; the lock must serialize access

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := c.WithAccount(context.Background(), "acct-1", func(context.Context) error {
				v := counter
				time.Sleep(time.Microsecond)
				counter = v + 1
				return nil
			})
			if err != nil {
				t.Errorf("WithAccount: %v", err)
			}
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Errorf("counter = %d, want 50 (lost updates)", counter)
	}
}

func TestWithAccount_DifferentAccountsRunInParallel(t *testing.T) {
	c := New(time.Second)

	holdA := make(chan struct{})
	started := make(chan struct{})

	go func() {
		_ = c.WithAccount(context.Background(), "acct-a", func(context.Context) error {
			close(started)
			<-holdA
			return nil
		})
	}()
	<-started

	// acct-b must not wait on acct-a's lock.
	done := make(chan error, 1)
	go func() {
		done <- c.WithAccount(context.Background(), "acct-b", func(context.Context) error {
			return nil
		})
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("acct-b: %v", err)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("acct-b blocked behind acct-a's lock")
	}
	close(holdA)
}

func TestWithAccount_TimeoutReturnsAccountBusy(t *testing.T) {
	c := New(50 * time.Millisecond)

	hold := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = c.WithAccount(context.Background(), "acct-1", func(context.Context) error {
			close(started)
			<-hold
			return nil
		})
	}()
	<-started

	err := c.WithAccount(context.Background(), "acct-1", func(context.Context) error {
		t.Error("fn ran despite held lock")
		return nil
	})
	if !errors.Is(err, ErrAccountBusy) {
		t.Errorf("err = %v, want ErrAccountBusy", err)
	}
	close(hold)
}

func TestWithAccount_ReleasesOnError(t *testing.T) {
	c := New(time.Second)
	sentinel := errors.New("boom")

	if err := c.WithAccount(context.Background(), "acct-1", func(context.Context) error {
		return sentinel
	}); !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want sentinel", err)
	}

	// Lock must be free again.
	if err := c.WithAccount(context.Background(), "acct-1", func(context.Context) error {
		return nil
	}); err != nil {
		t.Fatalf("lock not released after error: %v", err)
	}
}

func TestWithAccount_ContextCancelled(t *testing.T) {
	c := New(time.Minute)

	hold := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = c.WithAccount(context.Background(), "acct-1", func(context.Context) error {
			close(started)
			<-hold
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.WithAccount(ctx, "acct-1", func(context.Context) error { return nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want context.DeadlineExceeded", err)
	}
	close(hold)
}
