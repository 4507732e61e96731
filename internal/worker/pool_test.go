package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func testPool(t *testing.T) *Pool {
	t.Helper()
	p := NewPool(Options{
		Workers:   2,
		QueueSize: 8,
		Retries:   2,
		BaseDelay: time.Millisecond,
		MaxDelay:  5 * time.Millisecond,
	})
	p.Start(context.Background())
	return p
}

func TestPool_RunsJob(t *testing.T) {
	p := testPool(t)

	done := make(chan struct{})
	if err := p.Submit("noop", func(context.Context) error {
		close(done)
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job did not run")
	}
	p.Close()
}

func TestPool_RetriesUntilSuccess(t *testing.T) {
	p := testPool(t)

	var attempts atomic.Int32
	done := make(chan struct{})
	if err := p.Submit("flaky", func(context.Context) error {
		if attempts.Add(1) < 3 {
			return errors.New("transient")
		}
		close(done)
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job did not recover")
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
	p.Close()
}

func TestPool_ExhaustsRetryBudget(t *testing.T) {
	p := testPool(t)

	var attempts atomic.Int32
	if err := p.Submit("hopeless", func(context.Context) error {
		attempts.Add(1)
		return errors.New("permanent")
	}); err != nil {
		t.Fatal(err)
	}

	p.Close() // waits for workers to drain
	// Retries=2 means 3 attempts total.
	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestPool_SubmitAfterClose(t *testing.T) {
	p := testPool(t)
	p.Close()

	if err := p.Submit("late", func(context.Context) error { return nil }); err == nil {
		t.Error("Submit after Close = nil error, want rejection")
	}
}

func TestPool_QueueFull(t *testing.T) {
	p := NewPool(Options{Workers: 1, QueueSize: 1, Retries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})
	p.Start(context.Background())
	defer p.Close()

	block := make(chan struct{})
	// First job occupies the worker, second fills the queue.
	_ = p.Submit("blocker", func(context.Context) error { <-block; return nil })
	// Give the worker time to pick up the blocker so the queue slot is free.
	time.Sleep(20 * time.Millisecond)
	_ = p.Submit("queued", func(context.Context) error { return nil })

	err := p.Submit("overflow", func(context.Context) error { return nil })
	close(block)
	if err == nil {
		t.Error("Submit on full queue = nil error, want rejection")
	}
}
