// Package worker runs named background jobs with bounded concurrency and
// retry. The webhook path queues anything slow or fallible here so HTTP
// handlers can acknowledge the provider immediately.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"
)

// Options tune pool size and retry behaviour.
type Options struct {
	Workers   int
	QueueSize int
	Retries   int           // attempts after the first failure
	BaseDelay time.Duration // first retry delay, doubled per attempt
	MaxDelay  time.Duration // backoff cap
}

func (o *Options) defaults() {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.Retries <= 0 {
		o.Retries = 3
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = 10 * time.Second
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 60 * time.Second
	}
}

type job struct {
	name string
	run  func(context.Context) error
}

// Pool is a fixed-size worker pool over a bounded queue.
type Pool struct {
	opts   Options
	queue  chan job
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// NewPool creates a stopped pool; call Start before submitting.
func NewPool(opts Options) *Pool {
	opts.defaults()
	return &Pool{
		opts:  opts,
		queue: make(chan job, opts.QueueSize),
	}
}

// Start launches the workers. The pool stops when ctx is cancelled or
// Close is called.
func (p *Pool) Start(ctx context.Context) {
	p.ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.opts.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	slog.Info("worker pool started", "workers", p.opts.Workers, "queue_size", p.opts.QueueSize)
}

// Submit queues a named job. It fails fast when the queue is full rather
// than blocking a request handler.
func (p *Pool) Submit(name string, run func(context.Context) error) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("submit %s: pool closed", name)
	}
	p.mu.Unlock()

	select {
	case p.queue <- job{name: name, run: run}:
		return nil
	default:
		return fmt.Errorf("submit %s: queue full", name)
	}
}

// Close stops accepting jobs, cancels in-flight work, and waits for the
// workers to exit.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	close(p.queue)
	p.wg.Wait()
	if p.cancel != nil {
		p.cancel()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for j := range p.queue {
		p.execute(j)
	}
}

// execute runs one job through its retry budget. A job that exhausts all
// attempts is logged and dropped.
func (p *Pool) execute(j job) {
	var err error
	for attempt := 0; attempt <= p.opts.Retries; attempt++ {
		if attempt > 0 {
			delay := p.backoff(attempt)
			slog.Warn("job retrying", "job", j.name, "attempt", attempt, "delay", delay, "error", err)
			select {
			case <-p.ctx.Done():
				slog.Warn("job abandoned on shutdown", "job", j.name)
				return
			case <-time.After(delay):
			}
		}

		if err = j.run(p.ctx); err == nil {
			if attempt > 0 {
				slog.Info("job recovered", "job", j.name, "attempts", attempt+1)
			}
			return
		}
		if p.ctx.Err() != nil {
			slog.Warn("job abandoned on shutdown", "job", j.name, "error", err)
			return
		}
	}
	slog.Error("job failed permanently", "job", j.name, "attempts", p.opts.Retries+1, "error", err)
}

// backoff doubles the base delay per attempt, capped, with up to 50%
// jitter so synchronized failures do not retry in lockstep.
func (p *Pool) backoff(attempt int) time.Duration {
	delay := p.opts.BaseDelay << (attempt - 1)
	if delay > p.opts.MaxDelay || delay <= 0 {
		delay = p.opts.MaxDelay
	}
	jitter := time.Duration(rand.Int64N(int64(delay)/2 + 1))
	return delay + jitter
}
