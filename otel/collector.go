// collector.go: OpenTelemetry metrics collector for tachys
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package otel

import (
	"context"

	"github.com/agilira/go-errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/agilira/tachys"
)

// ErrCodeNilMeterProvider is returned when NewCollector gets a nil provider.
const ErrCodeNilMeterProvider errors.ErrorCode = "TACHYS_OTEL_NIL_PROVIDER"

var (
	outcomeSuccess = metric.WithAttributes(attribute.String("outcome", "success"))
	outcomeFailure = metric.WithAttributes(attribute.String("outcome", "failure"))
)

// Collector implements tachys.MetricsCollector using OpenTelemetry.
//
// Thread-safety: Safe for concurrent use by multiple goroutines.
// The underlying OTEL instruments are thread-safe and lock-free.
type Collector struct {
	getLatency    metric.Int64Histogram
	setLatency    metric.Int64Histogram
	hits          metric.Int64Counter
	misses        metric.Int64Counter
	evictions     metric.Int64Counter
	expirations   metric.Int64Counter
	batchLatency  metric.Int64Histogram
	batchSize     metric.Int64Histogram
	batchAttempts metric.Int64Counter
	batches       metric.Int64Counter
	renderLatency metric.Int64Histogram
}

// Options for configuring Collector.
type Options struct {
	// MeterName is the name of the OpenTelemetry meter.
	// Default: "github.com/agilira/tachys"
	MeterName string
}

// Option is a functional option for configuring Collector.
type Option func(*Options)

// WithMeterName sets a custom meter name.
// This is useful for distinguishing metrics from multiple optimizer instances.
func WithMeterName(name string) Option {
	return func(o *Options) {
		o.MeterName = name
	}
}

// NewCollector creates a new OpenTelemetry metrics collector.
//
// Example:
//
//	exporter, _ := prometheus.New()
//	provider := metric.NewMeterProvider(metric.WithReader(exporter))
//	collector, err := otel.NewCollector(provider)
//	if err != nil {
//	    log.Fatal(err)
//	}
func NewCollector(provider metric.MeterProvider, opts ...Option) (*Collector, error) {
	if provider == nil {
		return nil, errors.New(ErrCodeNilMeterProvider, "meter provider cannot be nil")
	}

	options := Options{
		MeterName: "github.com/agilira/tachys",
	}
	for _, opt := range opts {
		opt(&options)
	}

	meter := provider.Meter(options.MeterName)
	c := &Collector{}

	var err error
	if c.getLatency, err = meter.Int64Histogram(
		"tachys_cache_get_latency_ns",
		metric.WithDescription("Latency of cache lookups in nanoseconds"),
		metric.WithUnit("ns"),
	); err != nil {
		return nil, err
	}

	if c.setLatency, err = meter.Int64Histogram(
		"tachys_cache_set_latency_ns",
		metric.WithDescription("Latency of cache stores including compression in nanoseconds"),
		metric.WithUnit("ns"),
	); err != nil {
		return nil, err
	}

	if c.hits, err = meter.Int64Counter(
		"tachys_cache_hits_total",
		metric.WithDescription("Total number of cache hits"),
	); err != nil {
		return nil, err
	}

	if c.misses, err = meter.Int64Counter(
		"tachys_cache_misses_total",
		metric.WithDescription("Total number of cache misses"),
	); err != nil {
		return nil, err
	}

	if c.evictions, err = meter.Int64Counter(
		"tachys_cache_evictions_total",
		metric.WithDescription("Total number of entries evicted to respect max size"),
	); err != nil {
		return nil, err
	}

	if c.expirations, err = meter.Int64Counter(
		"tachys_cache_expirations_total",
		metric.WithDescription("Total number of entries purged after their TTL"),
	); err != nil {
		return nil, err
	}

	if c.batchLatency, err = meter.Int64Histogram(
		"tachys_batch_latency_ns",
		metric.WithDescription("Latency of batch executions across all attempts in nanoseconds"),
		metric.WithUnit("ns"),
	); err != nil {
		return nil, err
	}

	if c.batchSize, err = meter.Int64Histogram(
		"tachys_batch_size",
		metric.WithDescription("Number of requests per executed batch"),
	); err != nil {
		return nil, err
	}

	if c.batchAttempts, err = meter.Int64Counter(
		"tachys_batch_attempts_total",
		metric.WithDescription("Total number of dispatcher invocations including retries"),
	); err != nil {
		return nil, err
	}

	if c.batches, err = meter.Int64Counter(
		"tachys_batches_total",
		metric.WithDescription("Total number of executed batches by outcome"),
	); err != nil {
		return nil, err
	}

	if c.renderLatency, err = meter.Int64Histogram(
		"tachys_render_latency_ns",
		metric.WithDescription("Component render durations reported by the host in nanoseconds"),
		metric.WithUnit("ns"),
	); err != nil {
		return nil, err
	}

	return c, nil
}

// RecordGet records a cache lookup.
func (c *Collector) RecordGet(latencyNs int64, hit bool) {
	ctx := context.Background()
	c.getLatency.Record(ctx, latencyNs)
	if hit {
		c.hits.Add(ctx, 1)
	} else {
		c.misses.Add(ctx, 1)
	}
}

// RecordSet records a cache store.
func (c *Collector) RecordSet(latencyNs int64) {
	c.setLatency.Record(context.Background(), latencyNs)
}

// RecordEviction records an eviction event.
func (c *Collector) RecordEviction() {
	c.evictions.Add(context.Background(), 1)
}

// RecordExpiration records a TTL-based expiration event.
func (c *Collector) RecordExpiration() {
	c.expirations.Add(context.Background(), 1)
}

// RecordBatch records one executed batch. The batches counter carries an
// "outcome" attribute of "success" or "failure".
func (c *Collector) RecordBatch(size int, latencyNs int64, attempts int, failed bool) {
	ctx := context.Background()
	c.batchSize.Record(ctx, int64(size))
	c.batchLatency.Record(ctx, latencyNs)
	c.batchAttempts.Add(ctx, int64(attempts))
	if failed {
		c.batches.Add(ctx, 1, outcomeFailure)
	} else {
		c.batches.Add(ctx, 1, outcomeSuccess)
	}
}

// RecordRender records a component render duration.
func (c *Collector) RecordRender(latencyNs int64) {
	c.renderLatency.Record(context.Background(), latencyNs)
}

// Compile-time interface check
var _ tachys.MetricsCollector = (*Collector)(nil)
