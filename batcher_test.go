// batcher_test.go: tests for request batching, retry and ordering
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package tachys

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// echoDispatcher answers every request with its payload doubled and records
// the batches it saw.
type echoDispatcher struct {
	mu      sync.Mutex
	batches [][]int
	calls   atomic.Int32
	failFor int32 // fail the first failFor calls
	delay   time.Duration
	skip    map[int]bool // payloads left unanswered
}

func (d *echoDispatcher) dispatch(ctx context.Context, channel string, batch []Request[int]) ([]Response[int], error) {
	n := d.calls.Add(1)
	if d.delay > 0 {
		time.Sleep(d.delay)
	}

	payloads := make([]int, len(batch))
	for i, r := range batch {
		payloads[i] = r.Payload
	}
	d.mu.Lock()
	d.batches = append(d.batches, payloads)
	d.mu.Unlock()

	if n <= d.failFor {
		return nil, fmt.Errorf("upstream unavailable (call %d)", n)
	}

	out := make([]Response[int], 0, len(batch))
	for _, r := range batch {
		if d.skip[r.Payload] {
			continue
		}
		out = append(out, Response[int]{ID: r.ID, Value: r.Payload * 2})
	}
	return out, nil
}

func (d *echoDispatcher) seen() [][]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]int(nil), d.batches...)
}

func newTestBatcher(t *testing.T, cfg BatchConfig, d *echoDispatcher) *Batcher[int, int] {
	t.Helper()
	b, err := NewBatcher[int, int](cfg, d.dispatch)
	if err != nil {
		t.Fatalf("NewBatcher failed: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func waitAll(t *testing.T, pending []*Pending[int]) ([]int, []error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	values := make([]int, len(pending))
	errs := make([]error, len(pending))
	for i, p := range pending {
		values[i], errs[i] = p.Wait(ctx)
	}
	return values, errs
}

func TestNewBatcher_NilDispatcher(t *testing.T) {
	_, err := NewBatcher[int, int](BatchConfig{}, nil)
	if !IsConfigError(err) {
		t.Errorf("expected config error, got %v", err)
	}
}

func TestBatcher_FullBatchExecutesOnce(t *testing.T) {
	d := &echoDispatcher{}
	b := newTestBatcher(t, BatchConfig{MaxBatchSize: 5, MaxWaitTime: time.Hour}, d)

	var pending []*Pending[int]
	for i := 1; i <= 5; i++ {
		pending = append(pending, b.Submit("prices", i))
	}

	values, errs := waitAll(t, pending)
	for i := range pending {
		if errs[i] != nil {
			t.Fatalf("request %d failed: %v", i, errs[i])
		}
		if values[i] != (i+1)*2 {
			t.Errorf("request %d: expected %d, got %d", i, (i+1)*2, values[i])
		}
	}
	if got := d.calls.Load(); got != 1 {
		t.Errorf("expected exactly 1 dispatch, got %d", got)
	}
}

func TestBatcher_PartialBatchWaitsMaxWaitTime(t *testing.T) {
	d := &echoDispatcher{}
	b := newTestBatcher(t, BatchConfig{MaxBatchSize: 3, MaxWaitTime: 50 * time.Millisecond}, d)

	start := time.Now()
	p1 := b.Submit("prices", 1)
	p2 := b.Submit("prices", 2)

	// Nothing runs on the caller's goroutine.
	if got := d.calls.Load(); got != 0 {
		t.Fatalf("expected no dispatch before MaxWaitTime, got %d", got)
	}

	_, errs := waitAll(t, []*Pending[int]{p1, p2})
	elapsed := time.Since(start)

	if errs[0] != nil || errs[1] != nil {
		t.Fatalf("unexpected errors %v", errs)
	}
	if elapsed < 45*time.Millisecond {
		t.Errorf("batch executed too early: %v", elapsed)
	}
	if got := d.calls.Load(); got != 1 {
		t.Errorf("expected exactly 1 dispatch, got %d", got)
	}
	if seen := d.seen(); len(seen) != 1 || len(seen[0]) != 2 {
		t.Errorf("expected one batch of 2, got %v", seen)
	}
}

func TestBatcher_ZeroWaitDefersAndCoalesces(t *testing.T) {
	// A single P keeps the zero-delay timer from firing until this goroutine yields.
	defer runtime.GOMAXPROCS(runtime.GOMAXPROCS(1))

	d := &echoDispatcher{}
	b := newTestBatcher(t, BatchConfig{MaxBatchSize: 5, MaxWaitTime: 0}, d)

	p1 := b.Submit("prices", 1)
	p2 := b.Submit("prices", 2)

	if got := d.calls.Load(); got != 0 {
		t.Fatalf("expected no dispatch on the submitting goroutine, got %d", got)
	}

	values, errs := waitAll(t, []*Pending[int]{p1, p2})
	if errs[0] != nil || errs[1] != nil {
		t.Fatalf("unexpected errors %v", errs)
	}
	if values[0] != 2 || values[1] != 4 {
		t.Errorf("unexpected values %v", values)
	}
	if seen := d.seen(); len(seen) != 1 || len(seen[0]) != 2 {
		t.Errorf("expected one batch of 2, got %v", seen)
	}
}

func TestBatcher_ChannelsAreIndependent(t *testing.T) {
	d := &echoDispatcher{}
	b := newTestBatcher(t, BatchConfig{MaxBatchSize: 2, MaxWaitTime: time.Hour}, d)

	pa := b.Submit("a", 1)
	pb := b.Submit("b", 2)
	b.Flush()

	_, errs := waitAll(t, []*Pending[int]{pa, pb})
	if errs[0] != nil || errs[1] != nil {
		t.Fatalf("unexpected errors %v", errs)
	}
	if got := d.calls.Load(); got != 2 {
		t.Errorf("expected one dispatch per channel, got %d", got)
	}
}

func TestBatcher_RetryThenSucceed(t *testing.T) {
	d := &echoDispatcher{failFor: 2}
	b := newTestBatcher(t, BatchConfig{
		MaxBatchSize: 1,
		EnableRetry:  true,
		MaxRetries:   3,
		BaseBackoff:  time.Millisecond,
		MaxBackoff:   5 * time.Millisecond,
	}, d)

	v, err := b.Do(context.Background(), "c", 21)
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if v != 42 {
		t.Errorf("expected 42, got %d", v)
	}
	if got := d.calls.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
	if stats := b.Stats(); stats.Attempts != 3 || stats.Failures != 0 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestBatcher_RetryExhausted(t *testing.T) {
	collector := &mockMetricsCollector{}
	d := &echoDispatcher{failFor: 100}
	b := newTestBatcher(t, BatchConfig{
		MaxBatchSize:     2,
		EnableRetry:      true,
		MaxRetries:       2,
		BaseBackoff:      time.Millisecond,
		MaxBackoff:       2 * time.Millisecond,
		MetricsCollector: collector,
	}, d)

	pending := []*Pending[int]{b.Submit("c", 1), b.Submit("c", 2)}
	_, errs := waitAll(t, pending)

	for i, err := range errs {
		if !IsRetryExhausted(err) {
			t.Errorf("request %d: expected retry exhausted, got %v", i, err)
		}
		if IsRetryable(err) {
			t.Errorf("request %d: exhausted error must not be retryable", i)
		}
		if ctx := GetErrorContext(err); ctx["attempts"] != 3 {
			t.Errorf("request %d: expected 3 attempts in context, got %v", i, ctx["attempts"])
		}
	}
	if got := d.calls.Load(); got != 3 {
		t.Errorf("expected maxRetries+1 = 3 attempts, got %d", got)
	}

	batches := collector.recordedBatches()
	if len(batches) != 1 || !batches[0].failed || batches[0].attempts != 3 || batches[0].size != 2 {
		t.Errorf("unexpected recorded batches %+v", batches)
	}
}

func TestBatcher_RetryDisabled(t *testing.T) {
	d := &echoDispatcher{failFor: 1}
	b := newTestBatcher(t, BatchConfig{MaxBatchSize: 1, EnableRetry: false, MaxRetries: 5}, d)

	_, err := b.Do(context.Background(), "c", 1)
	if !IsBatchExecutionError(err) {
		t.Errorf("expected batch execution error, got %v", err)
	}
	if IsRetryExhausted(err) {
		t.Error("did not expect retry exhausted with retry disabled")
	}
	if !IsRetryable(err) {
		t.Error("expected a single failed dispatch to be retryable by the caller")
	}
	if got := d.calls.Load(); got != 1 {
		t.Errorf("expected exactly 1 attempt, got %d", got)
	}
}

func TestBatcher_MissingResponse(t *testing.T) {
	d := &echoDispatcher{skip: map[int]bool{2: true}}
	b := newTestBatcher(t, BatchConfig{MaxBatchSize: 3, MaxWaitTime: time.Hour}, d)

	pending := []*Pending[int]{b.Submit("c", 1), b.Submit("c", 2), b.Submit("c", 3)}
	values, errs := waitAll(t, pending)

	if errs[0] != nil || values[0] != 2 {
		t.Errorf("request 0: got %d, %v", values[0], errs[0])
	}
	if GetErrorCode(errs[1]) != ErrCodeMissingResponse {
		t.Errorf("request 1: expected missing response, got %v", errs[1])
	}
	if errs[2] != nil || values[2] != 6 {
		t.Errorf("request 2: got %d, %v", values[2], errs[2])
	}
}

func TestBatcher_PerRequestError(t *testing.T) {
	boom := errors.New("no such series")
	b, err := NewBatcher[string, string](BatchConfig{MaxBatchSize: 2, MaxWaitTime: time.Hour},
		func(ctx context.Context, channel string, batch []Request[string]) ([]Response[string], error) {
			return []Response[string]{
				{ID: batch[0].ID, Value: "ok"},
				{ID: batch[1].ID, Err: boom},
			}, nil
		})
	if err != nil {
		t.Fatalf("NewBatcher failed: %v", err)
	}
	defer func() { _ = b.Close() }()

	p1 := b.Submit("c", "a")
	p2 := b.Submit("c", "b")

	ctx := context.Background()
	if v, err := p1.Wait(ctx); err != nil || v != "ok" {
		t.Errorf("request 1: got %q, %v", v, err)
	}
	if _, err := p2.Wait(ctx); !errors.Is(err, boom) {
		t.Errorf("request 2: expected %v, got %v", boom, err)
	}
}

func TestBatcher_SameChannelFIFO(t *testing.T) {
	d := &echoDispatcher{delay: 20 * time.Millisecond}
	b := newTestBatcher(t, BatchConfig{MaxBatchSize: 2, MaxWaitTime: time.Hour}, d)

	var pending []*Pending[int]
	for i := 1; i <= 6; i++ {
		pending = append(pending, b.Submit("c", i))
	}
	_, errs := waitAll(t, pending)
	for _, err := range errs {
		if err != nil {
			t.Fatalf("unexpected error %v", err)
		}
	}

	seen := d.seen()
	want := [][]int{{1, 2}, {3, 4}, {5, 6}}
	if fmt.Sprint(seen) != fmt.Sprint(want) {
		t.Errorf("expected batches in order %v, got %v", want, seen)
	}
}

func TestBatcher_PanicRecovered(t *testing.T) {
	b, err := NewBatcher[int, int](BatchConfig{MaxBatchSize: 1},
		func(ctx context.Context, channel string, batch []Request[int]) ([]Response[int], error) {
			panic("dispatcher exploded")
		})
	if err != nil {
		t.Fatalf("NewBatcher failed: %v", err)
	}
	defer func() { _ = b.Close() }()

	_, err = b.Do(context.Background(), "c", 1)
	if GetErrorCode(err) != ErrCodeBatchExecutionFailed {
		t.Fatalf("expected batch execution error, got %v", err)
	}
	if stats := b.Stats(); stats.Failures != 1 {
		t.Errorf("expected 1 failed batch, got %d", stats.Failures)
	}
}

func TestBatcher_CloseFlushesAndRejects(t *testing.T) {
	d := &echoDispatcher{}
	b, err := NewBatcher[int, int](BatchConfig{MaxBatchSize: 10, MaxWaitTime: time.Hour}, d.dispatch)
	if err != nil {
		t.Fatalf("NewBatcher failed: %v", err)
	}

	p := b.Submit("c", 4)
	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	select {
	case <-p.Done():
	default:
		t.Fatal("expected open batch to be executed by Close")
	}
	if v, err := p.Wait(context.Background()); err != nil || v != 8 {
		t.Errorf("expected 8, got %d, %v", v, err)
	}

	_, err = b.Do(context.Background(), "c", 1)
	if GetErrorCode(err) != ErrCodeBatcherClosed {
		t.Errorf("expected batcher closed, got %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestBatcher_WaitHonorsContext(t *testing.T) {
	d := &echoDispatcher{}
	b := newTestBatcher(t, BatchConfig{MaxBatchSize: 10, MaxWaitTime: time.Hour}, d)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := b.Do(ctx, "c", 1); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if stats := b.Stats(); stats.Queued != 1 {
		t.Errorf("abandoned request should stay queued, got %d", stats.Queued)
	}
}

func TestBatcher_SetConfigAppliesToNewBatches(t *testing.T) {
	d := &echoDispatcher{}
	b := newTestBatcher(t, BatchConfig{MaxBatchSize: 10, MaxWaitTime: time.Hour}, d)

	old := b.Submit("c", 1)

	if err := b.SetConfig(BatchConfig{MaxBatchSize: 1, MaxWaitTime: time.Hour}); err != nil {
		t.Fatalf("SetConfig failed: %v", err)
	}
	if err := b.SetConfig(BatchConfig{MaxBatchSize: 0}); !IsConfigError(err) {
		t.Errorf("expected config error for zero batch size, got %v", err)
	}

	// The open batch keeps MaxBatchSize 10, so the next submit joins it.
	joined := b.Submit("c", 2)
	select {
	case <-joined.Done():
		t.Fatal("request joined to an old batch must not execute yet")
	case <-time.After(20 * time.Millisecond):
	}

	b.Flush()
	_, errs := waitAll(t, []*Pending[int]{old, joined})
	if errs[0] != nil || errs[1] != nil {
		t.Fatalf("unexpected errors %v", errs)
	}

	// New batches use MaxBatchSize 1 and execute immediately.
	if v, err := b.Do(context.Background(), "c", 5); err != nil || v != 10 {
		t.Errorf("expected 10, got %d, %v", v, err)
	}
}

func TestBatcher_DispatchRateLimit(t *testing.T) {
	d := &echoDispatcher{}
	b := newTestBatcher(t, BatchConfig{MaxBatchSize: 1, DispatchRate: 20, DispatchBurst: 1}, d)

	start := time.Now()
	var pending []*Pending[int]
	for i := 0; i < 3; i++ {
		pending = append(pending, b.Submit("c", i))
	}
	waitAll(t, pending)

	// 3 dispatches at 20/s with a burst of 1 take at least ~100ms.
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("expected rate limiting, finished in %v", elapsed)
	}
}

func TestBackoff(t *testing.T) {
	cfg := BatchConfig{BaseBackoff: 100 * time.Millisecond, MaxBackoff: time.Second}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{20, time.Second},
	}
	for _, c := range cases {
		if got := backoff(cfg, c.attempt); got != c.want {
			t.Errorf("backoff(%d) = %v, want %v", c.attempt, got, c.want)
		}
	}
}
