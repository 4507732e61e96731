// Package buffer smooths rapid-fire inbound messages into one logical turn
// per conversation. Messages are held in a shared store during a debounce
// window and drained as a single combined message once the sender goes
// quiet, or unconditionally once a hard deadline passes.
package buffer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/craftline/waroute/internal/store"
	"github.com/craftline/waroute/internal/wamsg"
)

// Dispatch receives the combined message once a batch is drained.
// Implementations are expected to absorb their own failures (retries live
// in the worker pool); a returned error is logged and the batch abandoned.
type Dispatch func(ctx context.Context, msg wamsg.Message) error

// Options tune the debounce behaviour.
type Options struct {
	Debounce time.Duration // quiet period after the last message before flush
	Poll     time.Duration // recheck interval while the sender keeps typing
	MaxWait  time.Duration // hard flush deadline from the first message
}

func (o *Options) defaults() {
	if o.Debounce <= 0 {
		o.Debounce = 3 * time.Second
	}
	if o.Poll <= 0 {
		o.Poll = time.Second
	}
	if o.MaxWait <= 0 {
		o.MaxWait = 20 * time.Second
	}
}

// Engine is the debounced batching engine. Entries live in a shared store
// so correctness does not depend on which process received the webhook;
// the per-key scheduled check is an in-process timer, with the janitor
// re-dispatching batches whose check was lost to a crash.
type Engine struct {
	store    store.BufferStore
	dispatch Dispatch
	opts     Options
	tracer   trace.Tracer

	mu     sync.Mutex
	timers map[string]*time.Timer // at most one pending check per key
	closed bool
}

// New creates an Engine. Dispatch is invoked once per drained batch.
func New(st store.BufferStore, dispatch Dispatch, opts Options) *Engine {
	opts.defaults()
	return &Engine{
		store:    st,
		dispatch: dispatch,
		opts:     opts,
		tracer:   otel.Tracer("waroute/buffer"),
		timers:   make(map[string]*time.Timer),
	}
}

// Add appends one canonical message to the conversation's pending batch.
// Returns true when this message started a new batch, in which case a
// debounce check has been scheduled. A storage failure is fatal for the
// request: the webhook is not acknowledged and the provider's retry is
// absorbed by deduplication.
func (e *Engine) Add(ctx context.Context, msg wamsg.Message) (bool, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return false, fmt.Errorf("encode buffered message: %w", err)
	}

	first, err := e.store.Append(ctx, msg.Phone, payload, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("buffer append for %s: %w", msg.Phone, err)
	}

	if first {
		e.schedule(msg.Phone, e.opts.Debounce)
		slog.Info("buffer batch started", "phone", msg.Phone)
	} else {
		slog.Debug("buffer batch extended", "phone", msg.Phone)
	}
	return first, nil
}

// schedule arms the per-key check timer unless one is already pending.
func (e *Engine) schedule(key string, delay time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if _, ok := e.timers[key]; ok {
		return
	}
	e.timers[key] = time.AfterFunc(delay, func() { e.check(key) })
}

// check decides whether the batch for key is ready to flush. It must never
// panic or lose the callback chain: every outcome either drains, reschedules,
// or deliberately abandons with a log line.
func (e *Engine) check(key string) {
	e.mu.Lock()
	delete(e.timers, key)
	e.mu.Unlock()

	ctx, span := e.tracer.Start(context.Background(), "buffer.check",
		trace.WithAttributes(attribute.String("conversation.key", key)))
	defer span.End()

	batch, err := e.store.Batch(ctx, key)
	if err != nil {
		slog.Error("buffer check failed, will retry", "phone", key, "error", err)
		e.schedule(key, e.opts.Poll)
		return
	}
	if batch == nil {
		// Drained by a concurrent check; nothing to do.
		return
	}

	now := time.Now().UTC()
	quiet := now.Sub(batch.LastAt) >= e.opts.Debounce
	expired := now.Sub(batch.FirstAt) >= e.opts.MaxWait

	if !quiet && !expired {
		e.schedule(key, e.opts.Poll)
		return
	}

	if expired && !quiet {
		slog.Warn("buffer max wait exceeded, forcing flush", "phone", key, "held", now.Sub(batch.FirstAt))
	}
	e.flush(ctx, key)
}

// flush drains, combines, and dispatches the batch for key.
func (e *Engine) flush(ctx context.Context, key string) {
	payloads, err := e.store.Drain(ctx, key)
	if err != nil {
		slog.Error("buffer drain failed, will retry", "phone", key, "error", err)
		e.schedule(key, e.opts.Poll)
		return
	}
	if len(payloads) == 0 {
		return // lost the drain race to a concurrent check
	}

	msgs := make([]wamsg.Message, 0, len(payloads))
	for _, p := range payloads {
		var m wamsg.Message
		if err := json.Unmarshal(p, &m); err != nil {
			slog.Error("corrupt buffered message dropped", "phone", key, "error", err)
			continue
		}
		msgs = append(msgs, m)
	}
	if len(msgs) == 0 {
		return
	}

	combined := Combine(msgs)
	slog.Info("buffer flushed", "phone", key, "batch_size", len(msgs))

	if err := e.dispatch(ctx, combined); err != nil {
		slog.Error("batch dispatch failed, requeueing", "phone", key, "message_id", combined.MessageID, "error", err)
		e.requeue(ctx, key, payloads)
		e.schedule(key, e.opts.Poll)
	}
}

// requeue puts drained payloads back after a failed dispatch so the next
// check retries them. The entries form a fresh batch; losing one here takes
// a second consecutive storage failure, which is logged as a loss.
func (e *Engine) requeue(ctx context.Context, key string, payloads [][]byte) {
	now := time.Now().UTC()
	for _, p := range payloads {
		if _, err := e.store.Append(ctx, key, p, now); err != nil {
			slog.Error("requeue failed, message lost", "phone", key, "error", err)
		}
	}
}

// FlushStale force-checks batches whose scheduled check was lost (process
// restart). Called by the janitor.
func (e *Engine) FlushStale(ctx context.Context) error {
	keys, err := e.store.StaleKeys(ctx, e.opts.MaxWait)
	if err != nil {
		return fmt.Errorf("stale batch scan: %w", err)
	}
	for _, key := range keys {
		slog.Warn("recovering orphaned buffer batch", "phone", key)
		e.check(key)
	}
	return nil
}

// Close cancels all pending checks. In-flight checks finish on their own.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	for key, t := range e.timers {
		t.Stop()
		delete(e.timers, key)
	}
}
