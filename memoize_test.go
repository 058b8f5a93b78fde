// memoize_test.go: tests for memoized function wrappers
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package tachys

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type curveQuery struct {
	Market string            `json:"market"`
	Tenors []string          `json:"tenors"`
	Tags   map[string]string `json:"tags"`
}

func TestMemoize_EqualArgumentsShareEntry(t *testing.T) {
	opt := newTestOptimizer(t, Config{})

	var calls atomic.Int32
	curve := Memoize(opt, func(q curveQuery) (int, error) {
		calls.Add(1)
		return len(q.Tenors), nil
	}, WithMemoName("curve"))

	// Two separately built but equal arguments.
	a := curveQuery{Market: "EEX", Tenors: []string{"Q1", "Q2"}, Tags: map[string]string{"x": "1", "y": "2"}}
	b := curveQuery{Market: "EEX", Tenors: []string{"Q1", "Q2"}, Tags: map[string]string{"y": "2", "x": "1"}}

	if v, err := curve(a); err != nil || v != 2 {
		t.Fatalf("first call: %v, %v", v, err)
	}
	if v, err := curve(b); err != nil || v != 2 {
		t.Fatalf("second call: %v, %v", v, err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("expected 1 underlying call, got %d", got)
	}

	if _, err := curve(curveQuery{Market: "PWX"}); err != nil {
		t.Fatal(err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("expected a different argument to miss, got %d calls", got)
	}
}

func TestMemoize_ErrorsNotCached(t *testing.T) {
	opt := newTestOptimizer(t, Config{})

	var calls atomic.Int32
	boom := errors.New("boom")
	fn := Memoize(opt, func(n int) (int, error) {
		if calls.Add(1) == 1 {
			return 0, boom
		}
		return n * 10, nil
	}, WithMemoName("flaky"))

	if _, err := fn(3); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if v, err := fn(3); err != nil || v != 30 {
		t.Fatalf("expected 30 after error, got %v, %v", v, err)
	}
	if v, _ := fn(3); v != 30 {
		t.Errorf("expected cached 30, got %v", v)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("expected 2 underlying calls, got %d", got)
	}
}

func TestMemoize_ConcurrentCallsRunOnce(t *testing.T) {
	opt := newTestOptimizer(t, Config{})

	var calls atomic.Int32
	release := make(chan struct{})
	fn := Memoize(opt, func(s string) (string, error) {
		calls.Add(1)
		<-release
		return strings.ToUpper(s), nil
	}, WithMemoName("upper"))

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = fn("eex")
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, r := range results {
		if r != "EEX" {
			t.Errorf("result %d: got %q", i, r)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("expected one underlying call, got %d", got)
	}
}

func TestMemoize_TTL(t *testing.T) {
	clock := &MockTimeProvider{currentTime: 1000000000}
	opt := newTestOptimizer(t, Config{TimeProvider: clock})

	var calls atomic.Int32
	fn := Memoize(opt, func(n int) (int, error) {
		calls.Add(1)
		return n, nil
	}, WithMemoName("ttl"), WithMemoTTL(time.Second))

	_, _ = fn(1)
	clock.Advance(500 * time.Millisecond)
	_, _ = fn(1)
	clock.Advance(time.Second)
	_, _ = fn(1)

	if got := calls.Load(); got != 2 {
		t.Errorf("expected recompute after TTL, got %d calls", got)
	}
}

func TestMemoize_KeyFailureCallsThrough(t *testing.T) {
	opt := newTestOptimizer(t, Config{})

	var calls atomic.Int32
	fn := Memoize(opt, func(c chan int) (int, error) {
		calls.Add(1)
		return 7, nil
	}, WithMemoName("chan"))

	ch := make(chan int)
	_, _ = fn(ch)
	_, _ = fn(ch)

	if got := calls.Load(); got != 2 {
		t.Errorf("expected uncached calls for unkeyable argument, got %d", got)
	}
	if opt.GetCacheStats().Size != 0 {
		t.Error("expected nothing cached")
	}
}

func TestMemoize_CustomKeyFunc(t *testing.T) {
	opt := newTestOptimizer(t, Config{})

	var calls atomic.Int32
	fn := Memoize(opt, func(q curveQuery) (string, error) {
		calls.Add(1)
		return q.Market, nil
	}, WithMemoName("market"), WithKeyFunc(func(arg interface{}) (string, error) {
		return arg.(curveQuery).Market, nil
	}))

	_, _ = fn(curveQuery{Market: "EEX", Tenors: []string{"Q1"}})
	_, _ = fn(curveQuery{Market: "EEX", Tenors: []string{"Q4"}})

	if got := calls.Load(); got != 1 {
		t.Errorf("expected key func to collapse arguments, got %d calls", got)
	}
	if !opt.Store().Has("memo:market:EEX") {
		t.Error("expected entry under the custom key")
	}
}

func TestMemoize_SeparateNamesSeparateEntries(t *testing.T) {
	opt := newTestOptimizer(t, Config{})

	double := Memoize(opt, func(n int) (int, error) { return n * 2, nil }, WithMemoName("double"))
	triple := Memoize(opt, func(n int) (int, error) { return n * 3, nil }, WithMemoName("triple"))

	if v, _ := double(5); v != 10 {
		t.Errorf("double(5) = %d", v)
	}
	if v, _ := triple(5); v != 15 {
		t.Errorf("triple(5) = %d", v)
	}
}

func TestCanonicalKey(t *testing.T) {
	cases := []struct {
		arg  interface{}
		want string
	}{
		{nil, "nil"},
		{"abc", "s:abc"},
		{42, "i:42"},
		{int64(-7), "i:-7"},
		{uint8(3), "u:3"},
		{true, "b:true"},
	}
	for _, c := range cases {
		got, err := CanonicalKey(c.arg)
		if err != nil || got != c.want {
			t.Errorf("CanonicalKey(%v) = %q, %v; want %q", c.arg, got, err, c.want)
		}
	}

	k1, _ := CanonicalKey(map[string]int{"a": 1, "b": 2})
	k2, _ := CanonicalKey(map[string]int{"b": 2, "a": 1})
	if k1 != k2 || !strings.HasPrefix(k1, "h:") {
		t.Errorf("expected equal hashed keys, got %q and %q", k1, k2)
	}

	k3, _ := CanonicalKey(map[string]int{"a": 1, "b": 3})
	if k3 == k1 {
		t.Error("different values must produce different keys")
	}

	if _, err := CanonicalKey(func() {}); err == nil {
		t.Error("expected error for function argument")
	}
}

func TestFuncName(t *testing.T) {
	if got := funcName(strings.ToUpper); got != "strings.ToUpper" {
		t.Errorf("unexpected name %q", got)
	}
	if got := funcName(nil); got != "anonymous" {
		t.Errorf("expected anonymous for nil, got %q", got)
	}
}
