// main.go: tachysd, a caching and batching gateway in front of a JSON API
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

// Command tachysd serves GET /v1/values/:key from a tachys Optimizer. Cache
// misses are coalesced into multi-key POSTs against the upstream URL.
//
//	tachysd --upstream http://quotes.internal/batch --addr :8080 --cache-size 5000 --compress
//
// Metrics are exposed at /metrics in the Prometheus format.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	flashflags "github.com/agilira/flash-flags"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/agilira/tachys"
	tachysotel "github.com/agilira/tachys/otel"
)

type options struct {
	addr            string
	upstream        string
	upstreamTimeout time.Duration
	requestTimeout  time.Duration
	configPath      string
	debug           bool
	monitor         bool

	cacheSize       int
	cacheTTL        time.Duration
	compress        bool
	zstd            bool
	cleanupInterval time.Duration

	batchSize     int
	batchWait     time.Duration
	retry         bool
	maxRetries    int
	dispatchRate  float64
	dispatchBurst int
}

func parseFlags(args []string) (options, error) {
	var o options

	fs := flashflags.New("tachysd")
	addr := fs.String("addr", ":8080", "HTTP listen address")
	upstream := fs.String("upstream", "", "upstream batch endpoint URL (required)")
	upstreamTimeout := fs.Duration("upstream-timeout", 10*time.Second, "timeout of one upstream request")
	requestTimeout := fs.Duration("request-timeout", 30*time.Second, "timeout of one client request")
	configPath := fs.String("config", "", "configuration file watched for cache.* and batch.* changes")
	debug := fs.Bool("debug", false, "enable debug logging")
	monitor := fs.Bool("monitor", true, "start performance monitoring at startup")

	cacheSize := fs.Int("cache-size", tachys.DefaultMaxSize, "maximum number of cached values")
	cacheTTL := fs.Duration("cache-ttl", tachys.DefaultTTL, "time-to-live of cached values")
	compress := fs.Bool("compress", false, "compress cached values")
	useZstd := fs.Bool("zstd", false, "use zstd instead of gzip when compressing")
	cleanup := fs.Duration("cleanup-interval", time.Minute, "interval of background expiry purges (0 disables)")

	batchSize := fs.Int("batch-size", tachys.DefaultMaxBatchSize, "maximum keys per upstream request")
	batchWait := fs.Duration("batch-wait", tachys.DefaultMaxWaitTime, "maximum wait before an upstream request is sent")
	retry := fs.Bool("retry", true, "retry failed upstream requests")
	maxRetries := fs.Int("max-retries", tachys.DefaultMaxRetries, "retries after the first failed attempt")
	dispatchRate := fs.Float64("dispatch-rate", 0, "maximum upstream requests per second (0 means unlimited)")
	dispatchBurst := fs.Int("dispatch-burst", 1, "upstream request burst allowed by --dispatch-rate")

	if err := fs.Parse(args); err != nil {
		return o, err
	}

	o = options{
		addr:            *addr,
		upstream:        *upstream,
		upstreamTimeout: *upstreamTimeout,
		requestTimeout:  *requestTimeout,
		configPath:      *configPath,
		debug:           *debug,
		monitor:         *monitor,
		cacheSize:       *cacheSize,
		cacheTTL:        *cacheTTL,
		compress:        *compress,
		zstd:            *useZstd,
		cleanupInterval: *cleanup,
		batchSize:       *batchSize,
		batchWait:       *batchWait,
		retry:           *retry,
		maxRetries:      *maxRetries,
		dispatchRate:    *dispatchRate,
		dispatchBurst:   *dispatchBurst,
	}

	if o.upstream == "" {
		return o, tachys.NewErrInvalidConfig("upstream", "", "is required")
	}
	return o, nil
}

// newOptimizer builds the optimizer and, when compression uses zstd, the
// codec that must be closed with it.
func newOptimizer(o options, logger tachys.Logger, collector tachys.MetricsCollector) (*tachys.Optimizer, func(), error) {
	cacheCfg := tachys.CacheConfig{
		MaxSize:           o.cacheSize,
		TTL:               o.cacheTTL,
		EnableCompression: o.compress,
		CleanupInterval:   o.cleanupInterval,
	}

	release := func() {}
	if o.zstd {
		codec, err := tachys.NewZstdCodec()
		if err != nil {
			return nil, nil, err
		}
		cacheCfg.Codec = codec
		release = codec.Close
	}

	up := newUpstream(o.upstream, o.upstreamTimeout)
	opt, err := tachys.New(tachys.Config{
		Cache: cacheCfg,
		Batch: tachys.BatchConfig{
			MaxBatchSize:  o.batchSize,
			MaxWaitTime:   o.batchWait,
			EnableRetry:   o.retry,
			MaxRetries:    o.maxRetries,
			DispatchRate:  o.dispatchRate,
			DispatchBurst: o.dispatchBurst,
		},
		Dispatcher:       up.Dispatch,
		Logger:           logger,
		MetricsCollector: collector,
	})
	if err != nil {
		release()
		return nil, nil, err
	}
	return opt, release, nil
}

func run(ctx context.Context, args []string, stderr io.Writer) error {
	o, err := parseFlags(args)
	if err != nil {
		return err
	}

	logger := newConsoleLogger(stderr, o.debug)
	if !o.debug {
		gin.SetMode(gin.ReleaseMode)
	}

	exporter, err := prometheus.New()
	if err != nil {
		return fmt.Errorf("create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("meter provider shutdown failed", "error", err)
		}
	}()

	collector, err := tachysotel.NewCollector(provider)
	if err != nil {
		return err
	}

	opt, release, err := newOptimizer(o, logger, collector)
	if err != nil {
		return err
	}
	defer release()
	defer func() {
		if err := opt.Close(); err != nil {
			logger.Warn("optimizer close failed", "error", err)
		}
	}()

	if o.monitor {
		opt.StartMonitoring()
	}

	if o.configPath != "" {
		hc, err := tachys.NewHotConfig(opt, tachys.HotConfigOptions{
			ConfigPath: o.configPath,
			Logger:     logger,
			OnReload: func(old, cur tachys.HotSettings) {
				logger.Info("configuration reloaded", "old", old, "new", cur)
			},
		})
		if err != nil {
			return err
		}
		if err := hc.Start(); err != nil {
			return err
		}
		defer func() { _ = hc.Stop() }()
	}

	srv := &http.Server{
		Addr:              o.addr,
		Handler:           newServer(opt, logger, o.requestTimeout),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("tachysd listening", "addr", o.addr, "upstream", o.upstream, "version", tachys.Version)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "tachysd: %v\n", err)
		os.Exit(1)
	}
}
