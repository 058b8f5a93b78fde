// visibility.go: visibility-gated activation of cache and batch work
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package tachys

import (
	"context"
	"fmt"
	"reflect"
	"sync"
)

// ObserveOptions configures viewport intersection.
type ObserveOptions struct {
	// Threshold is the visible fraction of the element, in [0, 1], that
	// counts as visible. 0 means any intersection.
	Threshold float64

	// RootMargin grows or shrinks the viewport before intersecting, in the
	// host's margin syntax (for example "200px 0px").
	RootMargin string
}

// Observer is the host capability that reports when an element enters the
// viewport. onVisible may be called from any goroutine; the returned stop
// function ends the observation and must be safe to call more than once.
type Observer interface {
	Observe(element interface{}, opts ObserveOptions, onVisible func()) (stop func(), err error)
}

// AlwaysVisible is the observer for hosts without a viewport: every element
// is visible as soon as it is attached.
type AlwaysVisible struct{}

// Observe reports the element visible immediately.
func (AlwaysVisible) Observe(element interface{}, opts ObserveOptions, onVisible func()) (func(), error) {
	onVisible()
	return func() {}, nil
}

// ManualObserver lets the host feed intersection ratios explicitly, for
// example from a rendering bridge or in tests. Elements must be comparable.
type ManualObserver struct {
	mu       sync.Mutex
	watchers []*manualWatch
}

type manualWatch struct {
	element   interface{}
	threshold float64
	onVisible func()
}

// NewManualObserver creates an observer driven by Intersect.
func NewManualObserver() *ManualObserver {
	return &ManualObserver{}
}

// Observe registers element. Non-comparable elements are rejected.
func (m *ManualObserver) Observe(element interface{}, opts ObserveOptions, onVisible func()) (func(), error) {
	if element == nil {
		return nil, fmt.Errorf("nil element")
	}
	if !reflect.TypeOf(element).Comparable() {
		return nil, fmt.Errorf("element of type %T is not comparable", element)
	}

	w := &manualWatch{element: element, threshold: opts.Threshold, onVisible: onVisible}
	m.mu.Lock()
	m.watchers = append(m.watchers, w)
	m.mu.Unlock()

	return func() { m.remove(w) }, nil
}

// Intersect reports that element currently intersects the viewport by ratio
// (0..1). Watchers whose threshold is met fire once and are removed.
func (m *ManualObserver) Intersect(element interface{}, ratio float64) {
	if ratio <= 0 {
		return
	}

	m.mu.Lock()
	var fire []func()
	kept := m.watchers[:0]
	for _, w := range m.watchers {
		if w.element == element && ratio >= w.threshold {
			fire = append(fire, w.onVisible)
			continue
		}
		kept = append(kept, w)
	}
	for i := len(kept); i < len(m.watchers); i++ {
		m.watchers[i] = nil
	}
	m.watchers = kept
	m.mu.Unlock()

	for _, fn := range fire {
		fn()
	}
}

// Watching returns the number of active observations.
func (m *ManualObserver) Watching() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watchers)
}

func (m *ManualObserver) remove(target *manualWatch) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, w := range m.watchers {
		if w == target {
			m.watchers = append(m.watchers[:i], m.watchers[i+1:]...)
			return
		}
	}
}

// Trigger attaches elements to an Observer.
type Trigger struct {
	observer Observer
	opts     ObserveOptions
	logger   Logger
}

// NewTrigger creates a trigger. A nil observer means AlwaysVisible.
func NewTrigger(observer Observer, opts ObserveOptions, logger Logger) *Trigger {
	if observer == nil {
		observer = AlwaysVisible{}
	}
	if logger == nil {
		logger = NoOpLogger{}
	}
	return &Trigger{observer: observer, opts: opts, logger: logger}
}

// Attach starts observing element. The returned Visibility flips to visible
// exactly once and stays visible; attaching again models a remount. If the
// observer fails, the element is treated as visible right away.
func (t *Trigger) Attach(element interface{}) *Visibility {
	v := &Visibility{done: make(chan struct{})}

	stop, err := t.observer.Observe(element, t.opts, v.markVisible)
	if err != nil {
		t.logger.Warn("visibility observer failed", "error", NewErrVisibilityObserver(err))
		v.markVisible()
		return v
	}

	v.mu.Lock()
	if v.visible || v.detached {
		v.mu.Unlock()
		if stop != nil {
			stop()
		}
		return v
	}
	v.stop = stop
	v.mu.Unlock()
	return v
}

// Visibility is the per-attachment visibility state.
type Visibility struct {
	mu        sync.Mutex
	visible   bool
	detached  bool
	callbacks []func()
	stop      func()
	done      chan struct{}
}

// IsVisible reports whether the element has been visible at least once.
func (v *Visibility) IsVisible() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.visible
}

// OnVisible runs cb once the element is visible; immediately if it already is.
func (v *Visibility) OnVisible(cb func()) {
	v.mu.Lock()
	if v.visible {
		v.mu.Unlock()
		cb()
		return
	}
	if !v.detached {
		v.callbacks = append(v.callbacks, cb)
	}
	v.mu.Unlock()
}

// Done is closed when the element becomes visible.
func (v *Visibility) Done() <-chan struct{} {
	return v.done
}

// Wait blocks until the element is visible or ctx is done.
func (v *Visibility) Wait(ctx context.Context) error {
	select {
	case <-v.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Detach stops observing. Callbacks not yet run are dropped.
func (v *Visibility) Detach() {
	v.mu.Lock()
	v.detached = true
	v.callbacks = nil
	stop := v.stop
	v.stop = nil
	v.mu.Unlock()

	if stop != nil {
		stop()
	}
}

func (v *Visibility) markVisible() {
	v.mu.Lock()
	if v.visible || v.detached {
		v.mu.Unlock()
		return
	}
	v.visible = true
	callbacks := v.callbacks
	v.callbacks = nil
	stop := v.stop
	v.stop = nil
	close(v.done)
	v.mu.Unlock()

	if stop != nil {
		stop()
	}
	for _, cb := range callbacks {
		cb()
	}
}
