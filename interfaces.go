// interfaces.go: public interfaces for tachys
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package tachys

import (
	"context"
	"time"
)

// Cache is the key/value surface the facade exposes to dashboard components.
// All methods must be safe for concurrent use.
type Cache interface {
	// Get retrieves a value. An expired or undecodable entry is a miss.
	Get(key string) (value interface{}, found bool)

	// Set stores a value. A ttl <= 0 uses the configured default TTL.
	// Returns a SerializationError if the value cannot be serialized.
	Set(key string, value interface{}, ttl time.Duration) error

	// Delete removes an entry. Returns true if it was present.
	Delete(key string) bool

	// Clear removes all entries and resets hit/miss counters.
	Clear()

	// Stats returns a snapshot of the store statistics.
	Stats() CacheStats
}

// CacheStats provides statistics about cache performance.
type CacheStats struct {
	// Size is the current number of resident entries
	Size int `json:"size"`

	// Capacity is the maximum number of entries (MaxSize)
	Capacity int `json:"capacity"`

	// HitRate is hits / (hits + misses) since the last Clear, in [0, 1]
	HitRate float64 `json:"hit_rate"`

	// MemoryUsage is the sum of stored payload sizes in bytes.
	// With compression enabled it reflects post-compression sizes.
	MemoryUsage int64 `json:"memory_usage"`

	// Hits is the number of cache hits
	Hits uint64 `json:"hits"`

	// Misses is the number of cache misses (including expired entries)
	Misses uint64 `json:"misses"`

	// Evictions is the number of entries removed to respect MaxSize
	Evictions uint64 `json:"evictions"`

	// Expirations is the number of entries purged after their TTL
	Expirations uint64 `json:"expirations"`
}

// HitRatio returns the cache hit ratio as a percentage (0-100).
// Returns 0.0 if no Get operations have been performed yet.
func (s CacheStats) HitRatio() float64 {
	return s.HitRate * 100
}

// Dispatcher executes one batch of requests as a single underlying operation.
// Responses are matched to requests by Request.ID; a request with no matching
// response is rejected individually. A non-nil error fails the whole batch.
type Dispatcher[P, R any] func(ctx context.Context, channel string, batch []Request[P]) ([]Response[R], error)

// Logger defines a minimal logging interface with zero overhead.
// Implementations should use structured logging and be allocation-free.
type Logger interface {
	// Debug logs a debug message with optional key-value pairs.
	Debug(msg string, keyvals ...interface{})

	// Info logs an info message with optional key-value pairs.
	Info(msg string, keyvals ...interface{})

	// Warn logs a warning message with optional key-value pairs.
	Warn(msg string, keyvals ...interface{})

	// Error logs an error message with optional key-value pairs.
	Error(msg string, keyvals ...interface{})
}

// NoOpLogger is a logger that does nothing. Used as default to avoid nil checks.
type NoOpLogger struct{}

// Debug does nothing (no-op implementation).
func (NoOpLogger) Debug(msg string, keyvals ...interface{}) {}

// Info does nothing (no-op implementation).
func (NoOpLogger) Info(msg string, keyvals ...interface{}) {}

// Warn does nothing (no-op implementation).
func (NoOpLogger) Warn(msg string, keyvals ...interface{}) {}

// Error does nothing (no-op implementation).
func (NoOpLogger) Error(msg string, keyvals ...interface{}) {}

// TimeProvider provides current time with caching for performance.
// This interface allows injecting optimized or fake time implementations.
type TimeProvider interface {
	// Now returns the current time in nanoseconds since epoch.
	Now() int64
}

// MetricsCollector receives operation metrics from the store, the batcher and
// the facade. Implementations can forward to Prometheus, OpenTelemetry or any
// other backend. All methods must be safe for concurrent use and fast.
type MetricsCollector interface {
	// RecordGet records a cache lookup with its latency and hit/miss result.
	RecordGet(latencyNs int64, hit bool)

	// RecordSet records a cache store (including serialization/compression).
	RecordSet(latencyNs int64)

	// RecordEviction records an entry removed to respect MaxSize.
	RecordEviction()

	// RecordExpiration records an entry purged after its TTL.
	RecordExpiration()

	// RecordBatch records one executed batch: number of requests, total
	// latency across attempts, attempts made and whether it finally failed.
	RecordBatch(size int, latencyNs int64, attempts int, failed bool)

	// RecordRender records a component render duration reported by the host.
	RecordRender(latencyNs int64)
}

// NoOpMetricsCollector is a metrics collector that does nothing.
type NoOpMetricsCollector struct{}

// RecordGet does nothing.
func (NoOpMetricsCollector) RecordGet(latencyNs int64, hit bool) {}

// RecordSet does nothing.
func (NoOpMetricsCollector) RecordSet(latencyNs int64) {}

// RecordEviction does nothing.
func (NoOpMetricsCollector) RecordEviction() {}

// RecordExpiration does nothing.
func (NoOpMetricsCollector) RecordExpiration() {}

// RecordBatch does nothing.
func (NoOpMetricsCollector) RecordBatch(size int, latencyNs int64, attempts int, failed bool) {}

// RecordRender does nothing.
func (NoOpMetricsCollector) RecordRender(latencyNs int64) {}
