// memoize.go: cached function wrappers with canonical argument keys
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package tachys

import (
	"reflect"
	"runtime"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/goccy/go-json"
	"golang.org/x/sync/singleflight"
)

// KeyFunc derives a cache key fragment from a memoized function argument.
type KeyFunc func(arg interface{}) (string, error)

type memoizeOptions struct {
	name    string
	ttl     time.Duration
	keyFunc KeyFunc
}

// MemoizeOption configures Memoize.
type MemoizeOption func(*memoizeOptions)

// WithMemoName sets the key namespace. Default: the wrapped function's name.
// Anonymous closures should always be named, since the runtime gives them
// positional names that change when code moves.
func WithMemoName(name string) MemoizeOption {
	return func(o *memoizeOptions) { o.name = name }
}

// WithMemoTTL sets the TTL of memoized results. Default: the cache TTL.
func WithMemoTTL(ttl time.Duration) MemoizeOption {
	return func(o *memoizeOptions) { o.ttl = ttl }
}

// WithKeyFunc replaces the canonical key derivation.
func WithKeyFunc(fn KeyFunc) MemoizeOption {
	return func(o *memoizeOptions) { o.keyFunc = fn }
}

// Memoize wraps fn so results are cached in o under a key derived from the
// argument's value, not its identity: two freshly built but equal arguments
// share one entry. Concurrent calls with the same key run fn once. Errors are
// never cached. If the argument cannot be turned into a key, fn runs uncached.
//
// Example:
//
//	curve := tachys.Memoize(opt, loadForwardCurve, tachys.WithMemoName("forward-curve"))
//	points, err := curve(CurveQuery{Market: "EEX", Tenor: "Q1"})
func Memoize[A, R any](o *Optimizer, fn func(A) (R, error), opts ...MemoizeOption) func(A) (R, error) {
	options := memoizeOptions{keyFunc: CanonicalKey}
	for _, opt := range opts {
		opt(&options)
	}
	if options.name == "" {
		options.name = funcName(fn)
	}

	var group singleflight.Group

	return func(arg A) (R, error) {
		fragment, err := options.keyFunc(arg)
		if err != nil {
			o.logger.Debug("memoize key derivation failed, calling through", "func", options.name, "error", err)
			return fn(arg)
		}
		key := "memo:" + options.name + ":" + fragment

		if cached, ok := o.GetCached(key); ok {
			if typed, ok := cached.(R); ok {
				return typed, nil
			}
		}

		v, err, _ := group.Do(key, func() (interface{}, error) {
			result, err := fn(arg)
			if err != nil {
				return result, err
			}
			if err := o.SetCached(key, result, options.ttl); err != nil {
				o.logger.Warn("memoized result not cached", "func", options.name, "error", err)
			}
			return result, nil
		})

		result, _ := v.(R)
		return result, err
	}
}

// CanonicalKey derives a stable key from arg. Integers, unsigned integers
// and strings are formatted directly; everything else is serialized as JSON
// with sorted map keys and hashed with xxhash.
func CanonicalKey(arg interface{}) (string, error) {
	switch v := arg.(type) {
	case nil:
		return "nil", nil
	case string:
		return "s:" + v, nil
	case int:
		return "i:" + strconv.Itoa(v), nil
	case int8:
		return "i:" + strconv.FormatInt(int64(v), 10), nil
	case int16:
		return "i:" + strconv.FormatInt(int64(v), 10), nil
	case int32:
		return "i:" + strconv.FormatInt(int64(v), 10), nil
	case int64:
		return "i:" + strconv.FormatInt(v, 10), nil
	case uint:
		return "u:" + strconv.FormatUint(uint64(v), 10), nil
	case uint8:
		return "u:" + strconv.FormatUint(uint64(v), 10), nil
	case uint16:
		return "u:" + strconv.FormatUint(uint64(v), 10), nil
	case uint32:
		return "u:" + strconv.FormatUint(uint64(v), 10), nil
	case uint64:
		return "u:" + strconv.FormatUint(v, 10), nil
	case bool:
		return "b:" + strconv.FormatBool(v), nil
	}

	data, err := json.Marshal(arg)
	if err != nil {
		return "", err
	}
	return "h:" + strconv.FormatUint(xxhash.Sum64(data), 16), nil
}

func funcName(fn interface{}) string {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return "anonymous"
	}
	if f := runtime.FuncForPC(v.Pointer()); f != nil {
		return f.Name()
	}
	return "anonymous"
}
