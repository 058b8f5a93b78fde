// Package tachys is the performance-optimization layer that sits between
// dashboard components and the backend services feeding them.
//
// It composes a TTL-bounded cache store, a request batcher, a visibility
// trigger and a rolling metrics aggregator behind a single facade:
//
//	opt, err := tachys.New(tachys.Config{
//		Cache:      tachys.CacheConfig{MaxSize: 500, TTL: time.Minute},
//		Batch:      tachys.BatchConfig{MaxBatchSize: 20, MaxWaitTime: 25 * time.Millisecond},
//		Dispatcher: fetchPrices,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer opt.Close()
//
//	price, err := opt.Load(ctx, "price:EU-NORDPOOL", nil, 0)
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package tachys

import "time"

const (
	// Version of the tachys library
	Version = "v0.1.0-dev"

	// DefaultMaxSize is the default maximum number of cache entries
	DefaultMaxSize = 100

	// DefaultTTL is the default time-to-live of a cache entry
	DefaultTTL = 5 * time.Minute

	// DefaultMaxBatchSize is the default number of requests that seals a batch
	DefaultMaxBatchSize = 10

	// DefaultMaxWaitTime is the default delay between the first enqueue and dispatch
	DefaultMaxWaitTime = 50 * time.Millisecond

	// DefaultMaxRetries is the default number of retries after a failed dispatch
	DefaultMaxRetries = 3

	// DefaultBaseBackoff is the delay before the first retry; it doubles per attempt
	DefaultBaseBackoff = 100 * time.Millisecond

	// DefaultMaxBackoff caps the exponential backoff between retries
	DefaultMaxBackoff = 5 * time.Second

	// DefaultWindowSize is the number of samples kept per kind by the aggregator
	DefaultWindowSize = 100

	// DefaultChannel is the batch channel used by the facade
	DefaultChannel = "default"

	// MinCompressSize is the payload size below which compression is skipped
	MinCompressSize = 64
)
