// config.go: configuration for tachys
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package tachys

import (
	"time"

	"github.com/agilira/go-timecache"
)

// CacheConfig holds configuration parameters for the cache store.
type CacheConfig struct {
	// MaxSize is the maximum number of entries the store can hold.
	// Must be > 0. Default: DefaultMaxSize.
	MaxSize int

	// TTL is the default time-to-live for entries.
	// Must be > 0. Default: DefaultTTL.
	TTL time.Duration

	// EnableCompression compresses serialized values before storage.
	EnableCompression bool

	// CleanupInterval is how often expired entries are purged in the background.
	// If 0, expired entries are only purged lazily on access.
	CleanupInterval time.Duration

	// Codec compresses payloads when EnableCompression is set.
	// If nil, GzipCodec is used.
	Codec Codec

	// Serializer turns values into bytes for sizing and compression.
	// If nil, JSONSerializer is used.
	Serializer Serializer

	// Logger is used for debugging and monitoring.
	// If nil, NoOpLogger is used.
	Logger Logger

	// TimeProvider provides current time for TTL calculations.
	// If nil, a go-timecache backed provider is used.
	TimeProvider TimeProvider

	// MetricsCollector receives get/set/eviction/expiration metrics.
	// If nil, NoOpMetricsCollector is used.
	MetricsCollector MetricsCollector

	// OnEvict is called when an entry is evicted to respect MaxSize.
	// Compressed entries are decoded first; value is nil if decoding fails.
	// This callback must be fast and non-blocking.
	OnEvict func(key string, value interface{})

	// OnExpire is called when an expired entry is purged.
	// Compressed entries are decoded first, as for OnEvict.
	// This callback must be fast and non-blocking.
	OnExpire func(key string, value interface{})
}

// Validate applies defaults to unset or out-of-range fields.
// Returns nil (no actual validation errors, only normalization).
//
// Default values applied:
//   - MaxSize: DefaultMaxSize if <= 0
//   - TTL: DefaultTTL if <= 0
//   - Codec: GzipCodec if nil
//   - Serializer: JSONSerializer if nil
//   - Logger: NoOpLogger{} if nil
//   - TimeProvider: systemTimeProvider{} if nil
//   - MetricsCollector: NoOpMetricsCollector{} if nil
func (c *CacheConfig) Validate() error {
	if c.MaxSize <= 0 {
		c.MaxSize = DefaultMaxSize
	}

	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}

	if c.CleanupInterval < 0 {
		c.CleanupInterval = 0
	}

	if c.Codec == nil {
		c.Codec = GzipCodec{}
	}

	if c.Serializer == nil {
		c.Serializer = JSONSerializer{}
	}

	if c.Logger == nil {
		c.Logger = NoOpLogger{}
	}

	if c.TimeProvider == nil {
		c.TimeProvider = &systemTimeProvider{}
	}

	if c.MetricsCollector == nil {
		c.MetricsCollector = NoOpMetricsCollector{}
	}

	return nil
}

// DefaultCacheConfig returns a cache configuration with sensible defaults.
func DefaultCacheConfig() CacheConfig {
	cfg := CacheConfig{}
	_ = cfg.Validate()
	return cfg
}

// BatchConfig holds configuration parameters for the request batcher.
type BatchConfig struct {
	// MaxBatchSize seals a batch as soon as it holds this many requests.
	// Must be > 0. Default: DefaultMaxBatchSize.
	MaxBatchSize int

	// MaxWaitTime is how long a batch stays open after its first request.
	// 0 still defers execution to the timer goroutine.
	MaxWaitTime time.Duration

	// EnableRetry retries failed dispatches with exponential backoff.
	EnableRetry bool

	// MaxRetries is the number of retries after the first attempt.
	// Only used if EnableRetry is true.
	MaxRetries int

	// BaseBackoff is the delay before the first retry. Default: DefaultBaseBackoff.
	BaseBackoff time.Duration

	// MaxBackoff caps the delay between retries. Default: DefaultMaxBackoff.
	MaxBackoff time.Duration

	// DispatchRate limits dispatches per second across all channels.
	// If 0, dispatches are not rate limited.
	DispatchRate float64

	// DispatchBurst is the token bucket size for DispatchRate. Default: 1.
	DispatchBurst int

	// Logger is used for debugging and monitoring.
	// If nil, NoOpLogger is used.
	Logger Logger

	// MetricsCollector receives one RecordBatch call per executed batch.
	// If nil, NoOpMetricsCollector is used.
	MetricsCollector MetricsCollector
}

// Validate applies defaults to unset or out-of-range fields.
// Returns nil (no actual validation errors, only normalization).
func (c *BatchConfig) Validate() error {
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = DefaultMaxBatchSize
	}

	if c.MaxWaitTime < 0 {
		c.MaxWaitTime = 0
	}

	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}

	if c.BaseBackoff <= 0 {
		c.BaseBackoff = DefaultBaseBackoff
	}

	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.MaxBackoff < c.BaseBackoff {
		c.MaxBackoff = c.BaseBackoff
	}

	if c.DispatchRate < 0 {
		c.DispatchRate = 0
	}
	if c.DispatchBurst <= 0 {
		c.DispatchBurst = 1
	}

	if c.Logger == nil {
		c.Logger = NoOpLogger{}
	}

	if c.MetricsCollector == nil {
		c.MetricsCollector = NoOpMetricsCollector{}
	}

	return nil
}

// DefaultBatchConfig returns a batch configuration with sensible defaults.
func DefaultBatchConfig() BatchConfig {
	cfg := BatchConfig{
		MaxWaitTime: DefaultMaxWaitTime,
		EnableRetry: true,
		MaxRetries:  DefaultMaxRetries,
	}
	_ = cfg.Validate()
	return cfg
}

// CacheOption changes one field of a CacheConfig.
// Options are merged into the running configuration by Optimizer.SetCacheConfig.
type CacheOption func(*CacheConfig)

// WithMaxSize sets the maximum number of entries. Shrinking evicts immediately.
func WithMaxSize(n int) CacheOption {
	return func(c *CacheConfig) { c.MaxSize = n }
}

// WithTTL sets the default TTL for entries created afterwards.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *CacheConfig) { c.TTL = ttl }
}

// WithCompression enables or disables compression of newly stored values.
func WithCompression(enabled bool) CacheOption {
	return func(c *CacheConfig) { c.EnableCompression = enabled }
}

// WithCodec replaces the compression codec.
func WithCodec(codec Codec) CacheOption {
	return func(c *CacheConfig) { c.Codec = codec }
}

// BatchOption changes one field of a BatchConfig.
// Options only affect batches opened after they are applied.
type BatchOption func(*BatchConfig)

// WithMaxBatchSize sets the request count that seals a batch.
func WithMaxBatchSize(n int) BatchOption {
	return func(c *BatchConfig) { c.MaxBatchSize = n }
}

// WithMaxWaitTime sets how long a batch stays open after its first request.
func WithMaxWaitTime(d time.Duration) BatchOption {
	return func(c *BatchConfig) { c.MaxWaitTime = d }
}

// WithRetry enables or disables retries.
func WithRetry(enabled bool) BatchOption {
	return func(c *BatchConfig) { c.EnableRetry = enabled }
}

// WithMaxRetries sets the number of retries after the first attempt.
func WithMaxRetries(n int) BatchOption {
	return func(c *BatchConfig) { c.MaxRetries = n }
}

// WithBackoff sets the exponential backoff bounds.
func WithBackoff(base, max time.Duration) BatchOption {
	return func(c *BatchConfig) {
		c.BaseBackoff = base
		c.MaxBackoff = max
	}
}

// checkCacheConfig rejects values that runtime setters must not silently normalize.
func checkCacheConfig(c CacheConfig) error {
	if c.MaxSize <= 0 {
		return NewErrInvalidConfig("max_size", c.MaxSize, "must be greater than 0")
	}
	if c.TTL <= 0 {
		return NewErrInvalidConfig("ttl", c.TTL, "must be greater than 0")
	}
	return nil
}

func checkBatchConfig(c BatchConfig) error {
	if c.MaxBatchSize <= 0 {
		return NewErrInvalidConfig("max_batch_size", c.MaxBatchSize, "must be greater than 0")
	}
	if c.MaxWaitTime < 0 {
		return NewErrInvalidConfig("max_wait_time", c.MaxWaitTime, "must be non-negative")
	}
	if c.MaxRetries < 0 {
		return NewErrInvalidConfig("max_retries", c.MaxRetries, "must be non-negative")
	}
	return nil
}

// systemTimeProvider is the default time provider using go-timecache.
type systemTimeProvider struct{}

func (t *systemTimeProvider) Now() int64 {
	return timecache.CachedTimeNano()
}
