// collector_test.go: tests for the OpenTelemetry metrics collector
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package otel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/agilira/go-errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/agilira/tachys"
)

func newTestCollector(t *testing.T, opts ...Option) (*Collector, *metric.ManualReader) {
	t.Helper()
	reader := metric.NewManualReader()
	provider := metric.NewMeterProvider(metric.WithReader(reader))
	t.Cleanup(func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			t.Errorf("Failed to shutdown provider: %v", err)
		}
	})

	collector, err := NewCollector(provider, opts...)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}
	return collector, reader
}

func collect(t *testing.T, reader *metric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Failed to collect metrics: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) (metricdata.Metrics, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m, true
			}
		}
	}
	return metricdata.Metrics{}, false
}

func histogramCount(t *testing.T, rm metricdata.ResourceMetrics, name string) uint64 {
	t.Helper()
	m, ok := findMetric(rm, name)
	if !ok {
		t.Fatalf("%s metric not found", name)
	}
	hist, ok := m.Data.(metricdata.Histogram[int64])
	if !ok {
		t.Fatalf("Expected Histogram[int64] for %s, got %T", name, m.Data)
	}
	var total uint64
	for _, dp := range hist.DataPoints {
		total += dp.Count
	}
	return total
}

func counterValue(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	m, ok := findMetric(rm, name)
	if !ok {
		t.Fatalf("%s metric not found", name)
	}
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("Expected Sum[int64] for %s, got %T", name, m.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

// TestCollector_Interface verifies Collector implements tachys.MetricsCollector
func TestCollector_Interface(t *testing.T) {
	var _ tachys.MetricsCollector = (*Collector)(nil)
}

func TestNewCollector_NilProvider(t *testing.T) {
	collector, err := NewCollector(nil)
	if err == nil {
		t.Fatal("NewCollector(nil) should return error")
	}
	if collector != nil {
		t.Fatal("NewCollector(nil) should return nil collector")
	}
	if !errors.HasCode(err, ErrCodeNilMeterProvider) {
		t.Errorf("Expected %s, got %v", ErrCodeNilMeterProvider, err)
	}
}

func TestCollector_RecordGet(t *testing.T) {
	collector, reader := newTestCollector(t)

	collector.RecordGet(1000, true)
	collector.RecordGet(2000, false)
	collector.RecordGet(1500, true)

	rm := collect(t, reader)
	if got := histogramCount(t, rm, "tachys_cache_get_latency_ns"); got != 3 {
		t.Errorf("Expected 3 lookups, got %d", got)
	}
	if got := counterValue(t, rm, "tachys_cache_hits_total"); got != 2 {
		t.Errorf("Expected 2 hits, got %d", got)
	}
	if got := counterValue(t, rm, "tachys_cache_misses_total"); got != 1 {
		t.Errorf("Expected 1 miss, got %d", got)
	}
}

func TestCollector_RecordSetEvictionExpiration(t *testing.T) {
	collector, reader := newTestCollector(t)

	collector.RecordSet(500)
	collector.RecordSet(750)
	collector.RecordEviction()
	collector.RecordEviction()
	collector.RecordEviction()
	collector.RecordExpiration()

	rm := collect(t, reader)
	if got := histogramCount(t, rm, "tachys_cache_set_latency_ns"); got != 2 {
		t.Errorf("Expected 2 stores, got %d", got)
	}
	if got := counterValue(t, rm, "tachys_cache_evictions_total"); got != 3 {
		t.Errorf("Expected 3 evictions, got %d", got)
	}
	if got := counterValue(t, rm, "tachys_cache_expirations_total"); got != 1 {
		t.Errorf("Expected 1 expiration, got %d", got)
	}
}

func TestCollector_RecordBatch(t *testing.T) {
	collector, reader := newTestCollector(t)

	collector.RecordBatch(5, 2_000_000, 1, false)
	collector.RecordBatch(3, 9_000_000, 4, true)

	rm := collect(t, reader)
	if got := histogramCount(t, rm, "tachys_batch_size"); got != 2 {
		t.Errorf("Expected 2 batch size samples, got %d", got)
	}
	if got := histogramCount(t, rm, "tachys_batch_latency_ns"); got != 2 {
		t.Errorf("Expected 2 batch latency samples, got %d", got)
	}
	if got := counterValue(t, rm, "tachys_batch_attempts_total"); got != 5 {
		t.Errorf("Expected 5 attempts, got %d", got)
	}

	m, ok := findMetric(rm, "tachys_batches_total")
	if !ok {
		t.Fatal("tachys_batches_total metric not found")
	}
	sum := m.Data.(metricdata.Sum[int64])
	outcomes := map[string]int64{}
	for _, dp := range sum.DataPoints {
		v, _ := dp.Attributes.Value(attribute.Key("outcome"))
		outcomes[v.AsString()] += dp.Value
	}
	if outcomes["success"] != 1 || outcomes["failure"] != 1 {
		t.Errorf("Expected one success and one failure, got %v", outcomes)
	}
}

func TestCollector_RecordRender(t *testing.T) {
	collector, reader := newTestCollector(t)

	collector.RecordRender(int64(16 * time.Millisecond))

	rm := collect(t, reader)
	if got := histogramCount(t, rm, "tachys_render_latency_ns"); got != 1 {
		t.Errorf("Expected 1 render sample, got %d", got)
	}
}

func TestCollector_Concurrent(t *testing.T) {
	collector, reader := newTestCollector(t)

	const goroutines = 10
	const ops = 100

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < ops; j++ {
				collector.RecordGet(int64(j), j%2 == 0)
				collector.RecordSet(int64(j))
			}
		}()
	}
	wg.Wait()

	rm := collect(t, reader)
	if got := histogramCount(t, rm, "tachys_cache_get_latency_ns"); got != goroutines*ops {
		t.Errorf("Expected %d lookups, got %d", goroutines*ops, got)
	}
	hits := counterValue(t, rm, "tachys_cache_hits_total")
	misses := counterValue(t, rm, "tachys_cache_misses_total")
	if hits+misses != goroutines*ops {
		t.Errorf("Expected %d hits+misses, got %d", goroutines*ops, hits+misses)
	}
}

func TestCollector_WithMeterName(t *testing.T) {
	collector, reader := newTestCollector(t, WithMeterName("dashboard"))
	collector.RecordEviction()

	rm := collect(t, reader)
	if len(rm.ScopeMetrics) == 0 {
		t.Fatal("No scope metrics recorded")
	}
	if rm.ScopeMetrics[0].Scope.Name != "dashboard" {
		t.Errorf("Expected meter name dashboard, got %s", rm.ScopeMetrics[0].Scope.Name)
	}
}

// TestCollector_OptimizerIntegration checks that a live optimizer reports
// through the collector.
func TestCollector_OptimizerIntegration(t *testing.T) {
	collector, reader := newTestCollector(t)

	opt, err := tachys.New(tachys.Config{
		Cache:            tachys.CacheConfig{MaxSize: 1},
		MetricsCollector: collector,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = opt.Close() }()

	if err := opt.SetCached("a", 1, 0); err != nil {
		t.Fatalf("SetCached() error = %v", err)
	}
	if err := opt.SetCached("b", 2, 0); err != nil {
		t.Fatalf("SetCached() error = %v", err)
	}
	opt.GetCached("a")
	opt.GetCached("b")

	opt.StartMonitoring()
	opt.RecordRender(time.Millisecond)

	rm := collect(t, reader)
	if got := counterValue(t, rm, "tachys_cache_evictions_total"); got != 1 {
		t.Errorf("Expected 1 eviction, got %d", got)
	}
	if got := counterValue(t, rm, "tachys_cache_hits_total"); got != 1 {
		t.Errorf("Expected 1 hit, got %d", got)
	}
	if got := counterValue(t, rm, "tachys_cache_misses_total"); got != 1 {
		t.Errorf("Expected 1 miss, got %d", got)
	}
	if got := histogramCount(t, rm, "tachys_render_latency_ns"); got != 1 {
		t.Errorf("Expected 1 render sample, got %d", got)
	}
}
