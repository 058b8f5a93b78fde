// optimizer.go: the facade composing store, batcher, trigger and aggregator
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package tachys

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Fetch is the payload the facade submits to the batcher on a cache miss.
type Fetch struct {
	Key     string
	Payload interface{}
}

// Config holds the configuration of an Optimizer.
type Config struct {
	// Cache configures the cache store.
	Cache CacheConfig

	// Batch configures the request batcher.
	Batch BatchConfig

	// Dispatcher fetches missing values in batches. Optional: without it
	// Load fails with TACHYS_INVALID_DISPATCHER, but the cache, memoize
	// and monitoring APIs keep working.
	Dispatcher Dispatcher[Fetch, interface{}]

	// Channel is the batch channel used by Load. Default: DefaultChannel.
	Channel string

	// WindowSize is the number of samples kept per kind. Default: DefaultWindowSize.
	WindowSize int

	// Observer reports element visibility. Default: AlwaysVisible.
	Observer Observer

	// Visibility configures the observer threshold and margin.
	Visibility ObserveOptions

	// Logger is shared by every component that has none of its own.
	Logger Logger

	// TimeProvider is shared by the cache store when it has none of its own.
	TimeProvider TimeProvider

	// MetricsCollector is shared by every component that has none of its own.
	MetricsCollector MetricsCollector
}

// Optimizer is the public surface used by dashboard components. It owns one
// cache store, one batcher and one aggregator; independent instances share
// nothing, so tests and tenants can each construct their own.
type Optimizer struct {
	store      *Store
	batcher    *Batcher[Fetch, interface{}]
	aggregator *Aggregator
	trigger    *Trigger
	loads      singleflight.Group

	mu        sync.Mutex
	batchCfg  BatchConfig
	channel   string
	logger    Logger
	collector MetricsCollector
	closeOnce sync.Once
}

// New creates an Optimizer. Monitoring starts Idle.
func New(cfg Config) (*Optimizer, error) {
	if cfg.Logger == nil {
		cfg.Logger = NoOpLogger{}
	}
	if cfg.MetricsCollector == nil {
		cfg.MetricsCollector = NoOpMetricsCollector{}
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Cache.Logger == nil {
		cfg.Cache.Logger = cfg.Logger
	}
	if cfg.Cache.TimeProvider == nil {
		cfg.Cache.TimeProvider = cfg.TimeProvider
	}
	if cfg.Cache.MetricsCollector == nil {
		cfg.Cache.MetricsCollector = cfg.MetricsCollector
	}
	if cfg.Batch.Logger == nil {
		cfg.Batch.Logger = cfg.Logger
	}
	if cfg.Batch.MetricsCollector == nil {
		cfg.Batch.MetricsCollector = cfg.MetricsCollector
	}
	_ = cfg.Batch.Validate()

	o := &Optimizer{
		store:      NewStore(cfg.Cache),
		aggregator: NewAggregator(cfg.WindowSize),
		trigger:    NewTrigger(cfg.Observer, cfg.Visibility, cfg.Logger),
		batchCfg:   cfg.Batch,
		channel:    cfg.Channel,
		logger:     cfg.Logger,
		collector:  cfg.MetricsCollector,
	}

	if cfg.Dispatcher != nil {
		b, err := NewBatcher(cfg.Batch, cfg.Dispatcher)
		if err != nil {
			_ = o.store.Close()
			return nil, err
		}
		o.batcher = b
	}

	return o, nil
}

// GetCached looks key up in the cache and records a cache sample.
func (o *Optimizer) GetCached(key string) (interface{}, bool) {
	start := time.Now()
	value, ok := o.store.Get(key)
	o.aggregator.Record(Sample{Kind: SampleCache, Timestamp: start, Duration: time.Since(start), Hit: ok})
	return value, ok
}

// SetCached stores value under key for ttl (the configured TTL when ttl <= 0).
func (o *Optimizer) SetCached(key string, value interface{}, ttl time.Duration) error {
	return o.store.Set(key, value, ttl)
}

// Load returns the cached value of key or, on a miss, fetches it through the
// batcher, caches it and returns it. Concurrent loads of the same key share
// one request. A value that cannot be cached is still returned.
func (o *Optimizer) Load(ctx context.Context, key string, payload interface{}, ttl time.Duration) (interface{}, error) {
	if key == "" {
		return nil, NewErrEmptyKey("Load")
	}
	if value, ok := o.GetCached(key); ok {
		return value, nil
	}
	if o.batcher == nil {
		return nil, NewErrInvalidDispatcher("Load")
	}

	ch := o.loads.DoChan(key, func() (interface{}, error) {
		start := time.Now()
		value, err := o.batcher.Do(context.Background(), o.channel, Fetch{Key: key, Payload: payload})
		o.aggregator.Record(Sample{Kind: SampleAPI, Timestamp: start, Duration: time.Since(start)})
		if err != nil {
			return nil, err
		}
		if err := o.store.Set(key, value, ttl); err != nil {
			o.logger.Warn("fetched value not cached", "key", key, "error", err)
		}
		return value, nil
	})

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SetCacheConfig merges opts into the current cache configuration and
// applies it at once. Shrinking MaxSize evicts immediately; TTL and
// compression changes apply to entries stored afterwards.
func (o *Optimizer) SetCacheConfig(opts ...CacheOption) error {
	cfg := o.store.Config()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := o.store.Reconfigure(cfg); err != nil {
		return err
	}
	o.logger.Info("cache config updated", "max_size", cfg.MaxSize, "ttl", cfg.TTL, "compression", cfg.EnableCompression)
	return nil
}

// SetBatchConfig merges opts into the current batch configuration. Only
// batches opened afterwards use it.
func (o *Optimizer) SetBatchConfig(opts ...BatchOption) error {
	o.mu.Lock()
	cfg := o.batchCfg
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := checkBatchConfig(cfg); err != nil {
		o.mu.Unlock()
		return err
	}
	_ = cfg.Validate()
	o.batchCfg = cfg
	o.mu.Unlock()

	if o.batcher != nil {
		if err := o.batcher.SetConfig(cfg); err != nil {
			return err
		}
	}
	o.logger.Info("batch config updated",
		"max_batch_size", cfg.MaxBatchSize,
		"max_wait_time", cfg.MaxWaitTime,
		"enable_retry", cfg.EnableRetry,
		"max_retries", cfg.MaxRetries)
	return nil
}

// CacheConfig returns the current cache configuration.
func (o *Optimizer) CacheConfig() CacheConfig {
	return o.store.Config()
}

// BatchConfig returns the current batch configuration.
func (o *Optimizer) BatchConfig() BatchConfig {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.batchCfg
}

// ClearCache removes every entry and resets hit/miss counters.
func (o *Optimizer) ClearCache() {
	o.store.Clear()
}

// StartMonitoring moves monitoring from Idle to Active. No-op when Active.
func (o *Optimizer) StartMonitoring() {
	if o.aggregator.Start() {
		o.logger.Info("performance monitoring started")
	}
}

// StopMonitoring moves monitoring from Active to Idle without clearing
// accumulated samples. No-op when Idle.
func (o *Optimizer) StopMonitoring() {
	if o.aggregator.Stop() {
		o.logger.Info("performance monitoring stopped")
	}
}

// IsMonitoring reports whether monitoring is Active.
func (o *Optimizer) IsMonitoring() bool {
	return o.aggregator.IsActive()
}

// RecordRender records a component render duration.
func (o *Optimizer) RecordRender(d time.Duration) {
	if o.aggregator.Record(Sample{Kind: SampleRender, Duration: d}) {
		o.collector.RecordRender(d.Nanoseconds())
	}
}

// GetPerformanceSummary returns the rolling averages.
func (o *Optimizer) GetPerformanceSummary() PerformanceSummary {
	return o.aggregator.Summary()
}

// GetCacheStats returns the cache statistics.
func (o *Optimizer) GetCacheStats() CacheStats {
	return o.store.Stats()
}

// BatcherStats returns batcher counters; zero without a dispatcher.
func (o *Optimizer) BatcherStats() BatcherStats {
	if o.batcher == nil {
		return BatcherStats{}
	}
	return o.batcher.Stats()
}

// Attach starts observing element and returns its visibility state.
func (o *Optimizer) Attach(element interface{}) *Visibility {
	return o.trigger.Attach(element)
}

// Store returns the underlying cache store.
func (o *Optimizer) Store() *Store {
	return o.store
}

// Close drains pending batches and releases the cache.
func (o *Optimizer) Close() error {
	var err error
	o.closeOnce.Do(func() {
		if o.batcher != nil {
			err = o.batcher.Close()
		}
		if cerr := o.store.Close(); err == nil {
			err = cerr
		}
		o.aggregator.Stop()
	})
	return err
}
