// batcher.go: request coalescing with bounded wait and retry/backoff
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package tachys

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Request is one queued lookup inside a batch.
type Request[P any] struct {
	ID         string
	Channel    string
	Payload    P
	EnqueuedAt time.Time
}

// Response answers the request with the same ID. A non-nil Err rejects only
// that request.
type Response[R any] struct {
	ID    string
	Value R
	Err   error
}

// Pending is the handle returned by Submit. It resolves exactly once.
type Pending[R any] struct {
	id    string
	done  chan struct{}
	once  sync.Once
	value R
	err   error
}

func newPending[R any](id string) *Pending[R] {
	return &Pending[R]{id: id, done: make(chan struct{})}
}

// ID returns the request ID the dispatcher must echo in its Response.
func (p *Pending[R]) ID() string { return p.id }

// Done is closed once the request is resolved or rejected.
func (p *Pending[R]) Done() <-chan struct{} { return p.done }

// Wait blocks until the request settles or ctx is done. Abandoning a request
// does not interrupt the batch it belongs to.
func (p *Pending[R]) Wait(ctx context.Context) (R, error) {
	select {
	case <-p.done:
		return p.value, p.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

func (p *Pending[R]) settle(value R, err error) {
	p.once.Do(func() {
		p.value = value
		p.err = err
		close(p.done)
	})
}

// batch is an open or sealed group of requests. It keeps the configuration
// that was current when it was opened.
type batch[P, R any] struct {
	cfg      BatchConfig
	requests []Request[P]
	pending  []*Pending[R]
	timer    *time.Timer
}

// channelQueue holds the open batch of a channel and the sealed batches
// waiting for the channel runner.
type channelQueue[P, R any] struct {
	open    *batch[P, R]
	sealed  []*batch[P, R]
	running bool
}

// BatcherStats reports batcher activity since creation.
type BatcherStats struct {
	Batches  uint64 `json:"batches"`
	Requests uint64 `json:"requests"`
	Attempts uint64 `json:"attempts"`
	Failures uint64 `json:"failures"`
	Queued   int    `json:"queued"`
}

// Batcher coalesces requests submitted to the same channel into a single
// dispatch. A batch executes once it holds MaxBatchSize requests or
// MaxWaitTime after its first request, whichever comes first. Batches of one
// channel execute strictly in submission order; channels run independently.
type Batcher[P, R any] struct {
	mu       sync.Mutex
	cfg      BatchConfig
	dispatch Dispatcher[P, R]
	channels map[string]*channelQueue[P, R]
	limiter  *rate.Limiter
	closed   bool
	wg       sync.WaitGroup

	batches  atomic.Uint64
	requests atomic.Uint64
	attempts atomic.Uint64
	failures atomic.Uint64
}

// NewBatcher creates a batcher around dispatch.
func NewBatcher[P, R any](cfg BatchConfig, dispatch Dispatcher[P, R]) (*Batcher[P, R], error) {
	if dispatch == nil {
		return nil, NewErrInvalidDispatcher("NewBatcher")
	}
	_ = cfg.Validate()

	return &Batcher[P, R]{
		cfg:      cfg,
		dispatch: dispatch,
		channels: make(map[string]*channelQueue[P, R]),
		limiter:  newLimiter(cfg),
	}, nil
}

func newLimiter(cfg BatchConfig) *rate.Limiter {
	if cfg.DispatchRate <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(cfg.DispatchRate), cfg.DispatchBurst)
}

// Submit appends payload to the open batch of channel and returns at once.
// The batch never executes on the caller's goroutine.
func (b *Batcher[P, R]) Submit(channel string, payload P) *Pending[R] {
	req := Request[P]{
		ID:         uuid.NewString(),
		Channel:    channel,
		Payload:    payload,
		EnqueuedAt: time.Now(),
	}
	p := newPending[R](req.ID)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		var zero R
		p.settle(zero, NewErrBatcherClosed(channel))
		return p
	}

	q, ok := b.channels[channel]
	if !ok {
		q = &channelQueue[P, R]{}
		b.channels[channel] = q
	}
	if q.open == nil {
		q.open = &batch[P, R]{cfg: b.cfg}
	}

	bt := q.open
	bt.requests = append(bt.requests, req)
	bt.pending = append(bt.pending, p)
	b.requests.Add(1)

	if len(bt.requests) >= bt.cfg.MaxBatchSize {
		b.sealLocked(channel, q)
	} else if bt.timer == nil {
		bt.timer = time.AfterFunc(bt.cfg.MaxWaitTime, func() {
			b.sealIfOpen(channel, bt)
		})
	}
	return p
}

// Do submits payload and waits for its result.
func (b *Batcher[P, R]) Do(ctx context.Context, channel string, payload P) (R, error) {
	return b.Submit(channel, payload).Wait(ctx)
}

// Flush seals every open batch without waiting for MaxWaitTime.
func (b *Batcher[P, R]) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for channel, q := range b.channels {
		if q.open != nil {
			b.sealLocked(channel, q)
		}
	}
}

// SetConfig replaces the configuration. Batches already open keep the
// configuration they were opened with.
func (b *Batcher[P, R]) SetConfig(cfg BatchConfig) error {
	if err := checkBatchConfig(cfg); err != nil {
		return err
	}
	_ = cfg.Validate()

	b.mu.Lock()
	defer b.mu.Unlock()

	if cfg.DispatchRate != b.cfg.DispatchRate || cfg.DispatchBurst != b.cfg.DispatchBurst {
		b.limiter = newLimiter(cfg)
	}
	b.cfg = cfg
	return nil
}

// Config returns the configuration applied to newly opened batches.
func (b *Batcher[P, R]) Config() BatchConfig {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg
}

// Stats returns batcher counters.
func (b *Batcher[P, R]) Stats() BatcherStats {
	b.mu.Lock()
	queued := 0
	for _, q := range b.channels {
		if q.open != nil {
			queued += len(q.open.requests)
		}
		for _, bt := range q.sealed {
			queued += len(bt.requests)
		}
	}
	b.mu.Unlock()

	return BatcherStats{
		Batches:  b.batches.Load(),
		Requests: b.requests.Load(),
		Attempts: b.attempts.Load(),
		Failures: b.failures.Load(),
		Queued:   queued,
	}
}

// Close seals all open batches, waits for them to execute and rejects any
// later Submit. It is safe to call more than once.
func (b *Batcher[P, R]) Close() error {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		for channel, q := range b.channels {
			if q.open != nil {
				b.sealLocked(channel, q)
			}
		}
	}
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}

// sealIfOpen is the MaxWaitTime timer callback.
func (b *Batcher[P, R]) sealIfOpen(channel string, bt *batch[P, R]) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if q, ok := b.channels[channel]; ok && q.open == bt {
		b.sealLocked(channel, q)
	}
}

// sealLocked moves the open batch to the sealed queue and makes sure the
// channel runner is alive. Caller must hold b.mu.
func (b *Batcher[P, R]) sealLocked(channel string, q *channelQueue[P, R]) {
	bt := q.open
	q.open = nil
	if bt.timer != nil {
		bt.timer.Stop()
	}
	q.sealed = append(q.sealed, bt)

	if !q.running {
		q.running = true
		b.wg.Add(1)
		go b.run(channel, q)
	}
}

// run executes the sealed batches of one channel in order until none are left.
func (b *Batcher[P, R]) run(channel string, q *channelQueue[P, R]) {
	defer b.wg.Done()

	for {
		b.mu.Lock()
		if len(q.sealed) == 0 {
			q.running = false
			if q.open == nil && b.channels[channel] == q {
				delete(b.channels, channel)
			}
			b.mu.Unlock()
			return
		}
		bt := q.sealed[0]
		q.sealed[0] = nil
		q.sealed = q.sealed[1:]
		limiter := b.limiter
		b.mu.Unlock()

		b.execute(channel, bt, limiter)
	}
}

// execute dispatches one batch, retrying per its configuration, and settles
// every pending request.
func (b *Batcher[P, R]) execute(channel string, bt *batch[P, R], limiter *rate.Limiter) {
	cfg := bt.cfg
	start := time.Now()
	b.batches.Add(1)

	maxAttempts := 1
	if cfg.EnableRetry {
		maxAttempts += cfg.MaxRetries
	}

	var (
		responses []Response[R]
		lastErr   error
		attempts  int
	)
	for attempts < maxAttempts {
		if attempts > 0 {
			time.Sleep(backoff(cfg, attempts))
		}
		if limiter != nil {
			_ = limiter.Wait(context.Background())
		}

		attempts++
		b.attempts.Add(1)
		responses, lastErr = b.dispatchOnce(channel, bt.requests)
		if lastErr == nil {
			break
		}
		cfg.Logger.Warn("batch dispatch failed",
			"channel", channel,
			"size", len(bt.requests),
			"attempt", attempts,
			"max_attempts", maxAttempts,
			"error", lastErr)
	}

	cfg.MetricsCollector.RecordBatch(len(bt.requests), time.Since(start).Nanoseconds(), attempts, lastErr != nil)

	if lastErr != nil {
		b.failures.Add(1)
		err := lastErr
		if cfg.EnableRetry {
			err = NewErrRetryExhausted(channel, attempts, lastErr)
		}
		var zero R
		for _, p := range bt.pending {
			p.settle(zero, err)
		}
		return
	}

	byID := make(map[string]Response[R], len(responses))
	for _, r := range responses {
		byID[r.ID] = r
	}
	for _, p := range bt.pending {
		r, ok := byID[p.id]
		if !ok {
			var zero R
			p.settle(zero, NewErrMissingResponse(channel, p.id))
			continue
		}
		p.settle(r.Value, r.Err)
	}
	cfg.Logger.Debug("batch executed", "channel", channel, "size", len(bt.requests), "attempts", attempts)
}

// dispatchOnce calls the dispatcher, turning errors and panics into
// BatchExecutionErrors.
func (b *Batcher[P, R]) dispatchOnce(channel string, requests []Request[P]) (responses []Response[R], err error) {
	defer func() {
		if r := recover(); r != nil {
			responses = nil
			err = NewErrBatchExecution(channel, len(requests), NewErrPanicRecovered("Dispatch:"+channel, r))
		}
	}()

	responses, err = b.dispatch(context.Background(), channel, requests)
	if err != nil {
		return nil, NewErrBatchExecution(channel, len(requests), err)
	}
	return responses, nil
}

// backoff returns the delay before retry number attempt (1-based):
// BaseBackoff * 2^(attempt-1), capped at MaxBackoff.
func backoff(cfg BatchConfig, attempt int) time.Duration {
	d := cfg.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.MaxBackoff {
			return cfg.MaxBackoff
		}
	}
	if d > cfg.MaxBackoff {
		return cfg.MaxBackoff
	}
	return d
}
