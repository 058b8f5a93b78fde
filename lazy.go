// lazy.go: visibility-deferred loading with placeholder, retry and fallback
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package tachys

import (
	"context"
	"sync"
	"time"
)

// LazyStatus is the state of a Lazy value.
type LazyStatus int

const (
	// LazyPending means the element has not been visible yet.
	LazyPending LazyStatus = iota
	// LazyLoading means the value is being looked up or fetched.
	LazyLoading
	// LazyReady means Value holds the result.
	LazyReady
	// LazyFailed means loading failed and Retry may be called.
	LazyFailed
)

// String returns the status name.
func (s LazyStatus) String() string {
	switch s {
	case LazyPending:
		return "pending"
	case LazyLoading:
		return "loading"
	case LazyReady:
		return "ready"
	case LazyFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// LazyOptions configures a Lazy value.
type LazyOptions struct {
	// CacheKey is the cache entry consulted before and filled after loading.
	CacheKey string

	// TTL of the cached value. Default: the cache TTL.
	TTL time.Duration

	// EnableCaching turns cache lookups and stores on.
	EnableCaching bool

	// Placeholder is returned as Value until the real value is available.
	Placeholder interface{}

	// Fallback is an unoptimized direct call used when the loader fails.
	// Its result is returned but never cached.
	Fallback func(ctx context.Context) (interface{}, error)

	// Timeout bounds one load attempt. The loader and Fallback are each
	// given their own deadline. Default: no timeout.
	Timeout time.Duration
}

// LazyState is a snapshot of a Lazy value.
type LazyState struct {
	Status   LazyStatus
	Value    interface{}
	Err      error
	CanRetry bool
}

// Lazy defers loading until its element is first visible. Before that no
// cache lookup and no fetch take place.
type Lazy struct {
	o      *Optimizer
	vis    *Visibility
	opts   LazyOptions
	loader func(ctx context.Context) (interface{}, error)

	mu      sync.Mutex
	status  LazyStatus
	value   interface{}
	err     error
	changed chan struct{}
}

// NewLazy attaches element to the optimizer's trigger and schedules loader
// for the first time the element becomes visible.
func NewLazy(o *Optimizer, element interface{}, opts LazyOptions, loader func(ctx context.Context) (interface{}, error)) *Lazy {
	l := &Lazy{
		o:       o,
		opts:    opts,
		loader:  loader,
		status:  LazyPending,
		value:   opts.Placeholder,
		changed: make(chan struct{}),
	}
	l.vis = o.Attach(element)
	l.vis.OnVisible(func() {
		if l.transition(LazyPending, LazyLoading) {
			go l.load()
		}
	})
	return l
}

// State returns the current state. Value is the placeholder until Ready.
func (l *Lazy) State() LazyState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return LazyState{
		Status:   l.status,
		Value:    l.value,
		Err:      l.err,
		CanRetry: l.status == LazyFailed,
	}
}

// Visible reports whether the element has been visible.
func (l *Lazy) Visible() bool {
	return l.vis.IsVisible()
}

// Wait blocks until the value is Ready or Failed, or ctx is done.
func (l *Lazy) Wait(ctx context.Context) (interface{}, error) {
	for {
		l.mu.Lock()
		status, value, err, changed := l.status, l.value, l.err, l.changed
		l.mu.Unlock()

		switch status {
		case LazyReady:
			return value, nil
		case LazyFailed:
			return nil, err
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Retry starts a new load after a failure. Returns false if not Failed.
func (l *Lazy) Retry() bool {
	if !l.transition(LazyFailed, LazyLoading) {
		return false
	}
	go l.load()
	return true
}

// Close stops observing the element.
func (l *Lazy) Close() {
	l.vis.Detach()
}

func (l *Lazy) load() {
	caching := l.opts.EnableCaching && l.opts.CacheKey != ""
	if caching {
		if v, ok := l.o.GetCached(l.opts.CacheKey); ok {
			l.finish(v, nil)
			return
		}
	}

	v, err := l.attempt(l.callLoader)
	if err == nil {
		if caching {
			if serr := l.o.SetCached(l.opts.CacheKey, v, l.opts.TTL); serr != nil {
				l.o.logger.Warn("lazy value not cached", "key", l.opts.CacheKey, "error", serr)
			}
		}
		l.finish(v, nil)
		return
	}

	if l.opts.Fallback != nil {
		l.o.logger.Warn("lazy load failed, using direct call", "key", l.opts.CacheKey, "error", err)
		if fv, ferr := l.attempt(l.opts.Fallback); ferr == nil {
			l.finish(fv, nil)
			return
		}
	}
	l.finish(nil, err)
}

// attempt runs fn under its own context, bounded by Timeout when set.
func (l *Lazy) attempt(fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	ctx := context.Background()
	if l.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.opts.Timeout)
		defer cancel()
	}
	return fn(ctx)
}

func (l *Lazy) callLoader(ctx context.Context) (v interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			v = nil
			err = NewErrPanicRecovered("Lazy:"+l.opts.CacheKey, r)
		}
	}()
	return l.loader(ctx)
}

func (l *Lazy) finish(v interface{}, err error) {
	l.mu.Lock()
	if err != nil {
		l.status = LazyFailed
		l.err = err
		l.value = l.opts.Placeholder
	} else {
		l.status = LazyReady
		l.err = nil
		l.value = v
	}
	close(l.changed)
	l.changed = make(chan struct{})
	l.mu.Unlock()
}

func (l *Lazy) transition(from, to LazyStatus) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.status != from {
		return false
	}
	l.status = to
	close(l.changed)
	l.changed = make(chan struct{})
	return true
}
