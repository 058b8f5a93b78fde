// aggregator.go: rolling performance samples
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package tachys

import (
	"sync"
	"time"
)

// SampleKind classifies a performance sample.
type SampleKind int

const (
	// SampleAPI is one backend fetch, measured from enqueue to result.
	SampleAPI SampleKind = iota
	// SampleCache is one cache lookup; Hit tells the outcome.
	SampleCache
	// SampleRender is one component render reported by the host.
	SampleRender

	sampleKinds
)

// String returns the kind name.
func (k SampleKind) String() string {
	switch k {
	case SampleAPI:
		return "api"
	case SampleCache:
		return "cache"
	case SampleRender:
		return "render"
	default:
		return "unknown"
	}
}

// Sample is one timing measurement.
type Sample struct {
	Kind      SampleKind
	Timestamp time.Time
	Duration  time.Duration
	Hit       bool
}

// PerformanceSummary is computed from the rolling windows on demand.
type PerformanceSummary struct {
	AvgAPIResponseTime time.Duration `json:"avg_api_response_time"`
	AvgCacheHitRate    float64       `json:"avg_cache_hit_rate"`
	AvgRenderTime      time.Duration `json:"avg_render_time"`
	TotalRequests      uint64        `json:"total_requests"`

	APISamples    int `json:"api_samples"`
	CacheSamples  int `json:"cache_samples"`
	RenderSamples int `json:"render_samples"`
}

// window is a fixed-size ring of the most recent samples of one kind.
type window struct {
	buf  []Sample
	next int
	full bool
}

func newWindow(size int) *window {
	return &window{buf: make([]Sample, size)}
}

func (w *window) add(s Sample) {
	w.buf[w.next] = s
	w.next++
	if w.next == len(w.buf) {
		w.next = 0
		w.full = true
	}
}

func (w *window) samples() []Sample {
	if w.full {
		return w.buf
	}
	return w.buf[:w.next]
}

// Aggregator records samples while active and summarizes them.
// Stop pauses recording without clearing; Start resumes on top of prior data.
type Aggregator struct {
	mu      sync.RWMutex
	active  bool
	windows [sampleKinds]*window
	total   uint64
	size    int
}

// NewAggregator creates an idle aggregator keeping windowSize samples per kind.
func NewAggregator(windowSize int) *Aggregator {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	a := &Aggregator{size: windowSize}
	for i := range a.windows {
		a.windows[i] = newWindow(windowSize)
	}
	return a
}

// Start activates recording. Returns false if already active.
func (a *Aggregator) Start() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active {
		return false
	}
	a.active = true
	return true
}

// Stop pauses recording. Returns false if already idle.
func (a *Aggregator) Stop() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.active {
		return false
	}
	a.active = false
	return true
}

// IsActive reports whether samples are being recorded.
func (a *Aggregator) IsActive() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.active
}

// Record adds s to its window. It is a no-op while idle; the return value
// tells whether the sample was kept.
func (a *Aggregator) Record(s Sample) bool {
	if s.Kind < 0 || s.Kind >= sampleKinds {
		return false
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.active {
		return false
	}
	a.windows[s.Kind].add(s)
	if s.Kind == SampleAPI || s.Kind == SampleCache {
		a.total++
	}
	return true
}

// Summary computes arithmetic means over the current windows.
func (a *Aggregator) Summary() PerformanceSummary {
	a.mu.RLock()
	defer a.mu.RUnlock()

	sum := PerformanceSummary{TotalRequests: a.total}

	api := a.windows[SampleAPI].samples()
	sum.APISamples = len(api)
	sum.AvgAPIResponseTime = meanDuration(api)

	render := a.windows[SampleRender].samples()
	sum.RenderSamples = len(render)
	sum.AvgRenderTime = meanDuration(render)

	cache := a.windows[SampleCache].samples()
	sum.CacheSamples = len(cache)
	if len(cache) > 0 {
		hits := 0
		for _, s := range cache {
			if s.Hit {
				hits++
			}
		}
		sum.AvgCacheHitRate = float64(hits) / float64(len(cache))
	}

	return sum
}

// Reset drops every sample and the request total. The active state is kept.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.windows {
		a.windows[i] = newWindow(a.size)
	}
	a.total = 0
}

func meanDuration(samples []Sample) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	var total time.Duration
	for _, s := range samples {
		total += s.Duration
	}
	return total / time.Duration(len(samples))
}
