// Package tachys provides a client-side performance layer for data-heavy
// dashboards: a TTL cache store, a request batcher, a visibility trigger and a
// rolling metrics aggregator, composed behind the Optimizer facade.
//
// # Overview
//
// Dashboard components issue many small, overlapping lookups. tachys reduces
// that load in four ways:
//   - Caching: values live in a size-bounded Store with per-entry TTL and
//     optional compression (gzip or zstd via klauspost/compress)
//   - Batching: cache misses on the same channel are coalesced into one
//     Dispatcher call, sealed at MaxBatchSize or after MaxWaitTime
//   - Deferral: Lazy values are not looked up until their element is visible
//   - Measurement: the Aggregator keeps rolling API, cache and render samples
//
// # Quick Start
//
//	fetch := func(ctx context.Context, channel string, batch []tachys.Request[tachys.Fetch]) ([]tachys.Response[interface{}], error) {
//	    keys := make([]string, len(batch))
//	    for i, r := range batch {
//	        keys[i] = r.Payload.Key
//	    }
//	    prices, err := pricing.GetMany(ctx, keys)
//	    if err != nil {
//	        return nil, err
//	    }
//	    out := make([]tachys.Response[interface{}], len(batch))
//	    for i, r := range batch {
//	        out[i] = tachys.Response[interface{}]{ID: r.ID, Value: prices[r.Payload.Key]}
//	    }
//	    return out, nil
//	}
//
//	opt, err := tachys.New(tachys.Config{
//	    Cache:      tachys.CacheConfig{MaxSize: 500, TTL: time.Minute},
//	    Batch:      tachys.DefaultBatchConfig(),
//	    Dispatcher: fetch,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer opt.Close()
//
//	price, err := opt.Load(ctx, "price:EU-NORDPOOL", nil, 0)
//
// # Cache Store
//
// Store evicts in insertion order (FIFO) once MaxSize is exceeded; re-setting
// a key counts as a fresh insertion. Expired entries are reported as misses
// and purged on access, or periodically when CleanupInterval is set. With
// EnableCompression every value is serialized (goccy/go-json by default),
// payloads of MinCompressSize bytes or more are compressed, and Get decodes
// back into the original Go type. Values that cannot be serialized are
// rejected with TACHYS_SERIALIZATION_FAILED.
//
// # Request Batcher
//
// Batcher[P, R] never executes on the caller's goroutine. Each channel has
// its own FIFO of sealed batches, so batches of one channel never overlap.
// With EnableRetry a failed dispatch is retried MaxRetries times with
// exponential backoff; when the budget is spent every request of the batch
// is rejected with TACHYS_RETRY_EXHAUSTED. Requests the dispatcher does not
// answer are rejected with TACHYS_MISSING_RESPONSE. New configuration only
// affects batches opened afterwards.
//
// # Visibility
//
// The host supplies an Observer. AlwaysVisible is the default for hosts with
// no viewport and ManualObserver accepts intersection ratios pushed by the
// host. An observer error degrades to "visible now":
//
//	lazy := tachys.NewLazy(opt, widgetID, tachys.LazyOptions{
//	    CacheKey:      "chart:" + widgetID,
//	    EnableCaching: true,
//	    Placeholder:   emptyChart,
//	}, loadChart)
//	state := lazy.State() // Placeholder until the widget has been visible and loaded
//
// # Monitoring
//
// Samples are recorded only while monitoring is active. StopMonitoring
// pauses recording without clearing; StartMonitoring resumes on top of
// the prior data. GetPerformanceSummary averages the most recent window.
//
// # Memoization
//
// Memoize wraps a function so its results are cached under a key derived from
// the argument's value:
//
//	curve := tachys.Memoize(opt, loadForwardCurve, tachys.WithMemoName("forward-curve"))
//
// # Hot Reload
//
// HotConfig watches a JSON, YAML or TOML file with Argus and applies cache.*
// and batch.* keys through the runtime setters.
//
// # Error Handling
//
// Errors carry codes and context from github.com/agilira/go-errors:
//
//	if _, err := opt.Load(ctx, key, nil, 0); err != nil {
//	    switch {
//	    case tachys.IsRetryExhausted(err):
//	        // upstream is down
//	    case tachys.IsEmptyKey(err):
//	        // caller bug
//	    }
//	}
//
// # Observability
//
// MetricsCollector receives store, batch and render events. The otel
// subpackage implements it with OpenTelemetry instruments.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package tachys
