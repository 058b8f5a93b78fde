// Package otel provides OpenTelemetry integration for tachys metrics.
//
// # Overview
//
// Collector implements tachys.MetricsCollector using OpenTelemetry
// instruments. Pass it as Config.MetricsCollector and the cache store, the
// batcher and the render recorder all report through it.
//
// # Usage
//
//	import (
//	    "github.com/agilira/tachys"
//	    tachysotel "github.com/agilira/tachys/otel"
//	    "go.opentelemetry.io/otel/exporters/prometheus"
//	    "go.opentelemetry.io/otel/sdk/metric"
//	)
//
//	exporter, _ := prometheus.New()
//	provider := metric.NewMeterProvider(metric.WithReader(exporter))
//
//	collector, _ := tachysotel.NewCollector(provider)
//
//	opt, _ := tachys.New(tachys.Config{
//	    Dispatcher:       fetchQuotes,
//	    MetricsCollector: collector,
//	})
//
// # Metrics Exposed
//
//   - tachys_cache_get_latency_ns: histogram of cache lookups
//   - tachys_cache_set_latency_ns: histogram of cache stores
//   - tachys_cache_hits_total, tachys_cache_misses_total: lookup outcomes
//   - tachys_cache_evictions_total: entries evicted to respect max size
//   - tachys_cache_expirations_total: entries purged after their TTL
//   - tachys_batch_latency_ns: histogram of batch executions across attempts
//   - tachys_batch_size: histogram of requests per batch
//   - tachys_batch_attempts_total: dispatcher invocations including retries
//   - tachys_batches_total{outcome}: executed batches by outcome
//   - tachys_render_latency_ns: histogram of host-reported render durations
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package otel
