// hot-reload.go: dynamic configuration with Argus integration
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package tachys

import (
	"sync"
	"time"

	"github.com/agilira/argus"
)

// HotSettings is the reloadable subset of the cache and batch configuration.
type HotSettings struct {
	MaxSize           int
	TTL               time.Duration
	EnableCompression bool

	MaxBatchSize int
	MaxWaitTime  time.Duration
	EnableRetry  bool
	MaxRetries   int
}

// HotConfig watches a configuration file with Argus and applies changes to
// an Optimizer through its runtime setters.
type HotConfig struct {
	optimizer *Optimizer
	watcher   *argus.Watcher
	logger    Logger
	mu        sync.RWMutex
	settings  HotSettings

	// OnReload is called after configuration is successfully reloaded.
	// This callback is optional and must be fast and non-blocking.
	OnReload func(oldSettings, newSettings HotSettings)
}

// HotConfigOptions configures hot reload behavior.
type HotConfigOptions struct {
	// ConfigPath is the path to the configuration file to watch.
	// Supports JSON, YAML, TOML, HCL, INI, Properties formats.
	ConfigPath string

	// PollInterval is how often to check for configuration changes.
	// Default: 1 second. Minimum: 100ms.
	PollInterval time.Duration

	// OnReload is called after configuration is successfully reloaded.
	OnReload func(oldSettings, newSettings HotSettings)

	// Logger for hot reload operations.
	// If nil, the optimizer's logger is used.
	Logger Logger
}

// NewHotConfig creates a hot-reloadable configuration for an Optimizer.
// Call Start to begin watching.
//
// Example configuration file (YAML):
//
//	cache:
//	  max_size: 500
//	  ttl: "10m"
//	  enable_compression: true
//	batch:
//	  max_batch_size: 20
//	  max_wait_time: "25ms"
//	  enable_retry: true
//	  max_retries: 2
//
// Keys absent from the file keep their current value. Invalid values are
// logged and skipped. Shrinking max_size evicts the oldest entries at once;
// batch changes apply to batches opened afterwards.
func NewHotConfig(o *Optimizer, opts HotConfigOptions) (*HotConfig, error) {
	if opts.ConfigPath == "" {
		return nil, NewErrInvalidConfig("config_path", "", "is required")
	}

	if opts.PollInterval == 0 {
		opts.PollInterval = 1 * time.Second
	} else if opts.PollInterval < 100*time.Millisecond {
		opts.PollInterval = 100 * time.Millisecond
	}

	if opts.Logger == nil {
		opts.Logger = o.logger
	}

	hc := &HotConfig{
		optimizer: o,
		logger:    opts.Logger,
		OnReload:  opts.OnReload,
		settings:  currentSettings(o),
	}

	watcher, err := argus.UniversalConfigWatcherWithConfig(opts.ConfigPath, hc.handleConfigChange, argus.Config{
		PollInterval: opts.PollInterval,
	})
	if err != nil {
		return nil, NewErrInvalidConfig("config_path", opts.ConfigPath, err.Error())
	}
	hc.watcher = watcher

	return hc, nil
}

// Start begins watching the configuration file for changes.
func (hc *HotConfig) Start() error {
	if hc.watcher.IsRunning() {
		return nil
	}
	return hc.watcher.Start()
}

// Stop stops watching the configuration file.
func (hc *HotConfig) Stop() error {
	if !hc.watcher.IsRunning() {
		return nil
	}
	return hc.watcher.Stop()
}

// Settings returns the last applied settings.
func (hc *HotConfig) Settings() HotSettings {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.settings
}

// handleConfigChange is called by Argus when configuration changes.
func (hc *HotConfig) handleConfigChange(data map[string]interface{}) {
	hc.apply(data)
}

func (hc *HotConfig) apply(data map[string]interface{}) {
	cacheOpts, batchOpts := hc.parseConfig(data)

	hc.mu.Lock()
	defer hc.mu.Unlock()

	if len(cacheOpts) > 0 {
		if err := hc.optimizer.SetCacheConfig(cacheOpts...); err != nil {
			hc.logger.Error("cache config reload rejected", "error", err)
		}
	}
	if len(batchOpts) > 0 {
		if err := hc.optimizer.SetBatchConfig(batchOpts...); err != nil {
			hc.logger.Error("batch config reload rejected", "error", err)
		}
	}

	old := hc.settings
	hc.settings = currentSettings(hc.optimizer)

	if hc.OnReload != nil {
		hc.OnReload(old, hc.settings)
	}
}

// parseConfig turns Argus config data into setter options. Sections may be
// nested ("cache": {...}) or flattened ("cache.ttl": "1m").
func (hc *HotConfig) parseConfig(data map[string]interface{}) ([]CacheOption, []BatchOption) {
	cache := section(data, "cache")
	batch := section(data, "batch")

	var cacheOpts []CacheOption
	var batchOpts []BatchOption

	if v, present := cache["max_size"]; present {
		if n, ok := parsePositiveInt(v); ok {
			cacheOpts = append(cacheOpts, WithMaxSize(n))
		} else {
			hc.logger.Warn("ignoring invalid hot config value", "key", "cache.max_size", "value", v)
		}
	}
	if v, present := cache["ttl"]; present {
		if d, ok := parseDuration(v); ok && d > 0 {
			cacheOpts = append(cacheOpts, WithTTL(d))
		} else {
			hc.logger.Warn("ignoring invalid hot config value", "key", "cache.ttl", "value", v)
		}
	}
	if v, present := cache["enable_compression"]; present {
		if b, ok := v.(bool); ok {
			cacheOpts = append(cacheOpts, WithCompression(b))
		} else {
			hc.logger.Warn("ignoring invalid hot config value", "key", "cache.enable_compression", "value", v)
		}
	}

	if v, present := batch["max_batch_size"]; present {
		if n, ok := parsePositiveInt(v); ok {
			batchOpts = append(batchOpts, WithMaxBatchSize(n))
		} else {
			hc.logger.Warn("ignoring invalid hot config value", "key", "batch.max_batch_size", "value", v)
		}
	}
	if v, present := batch["max_wait_time"]; present {
		if d, ok := parseDuration(v); ok && d >= 0 {
			batchOpts = append(batchOpts, WithMaxWaitTime(d))
		} else {
			hc.logger.Warn("ignoring invalid hot config value", "key", "batch.max_wait_time", "value", v)
		}
	}
	if v, present := batch["enable_retry"]; present {
		if b, ok := v.(bool); ok {
			batchOpts = append(batchOpts, WithRetry(b))
		} else {
			hc.logger.Warn("ignoring invalid hot config value", "key", "batch.enable_retry", "value", v)
		}
	}
	if v, present := batch["max_retries"]; present {
		if n, ok := parseIntInRange(v, 0, 100); ok {
			batchOpts = append(batchOpts, WithMaxRetries(n))
		} else {
			hc.logger.Warn("ignoring invalid hot config value", "key", "batch.max_retries", "value", v)
		}
	}

	return cacheOpts, batchOpts
}

func currentSettings(o *Optimizer) HotSettings {
	c := o.CacheConfig()
	b := o.BatchConfig()
	return HotSettings{
		MaxSize:           c.MaxSize,
		TTL:               c.TTL,
		EnableCompression: c.EnableCompression,
		MaxBatchSize:      b.MaxBatchSize,
		MaxWaitTime:       b.MaxWaitTime,
		EnableRetry:       b.EnableRetry,
		MaxRetries:        b.MaxRetries,
	}
}

// section extracts a nested section, falling back to flattened "name.key" entries.
func section(data map[string]interface{}, name string) map[string]interface{} {
	if nested, ok := data[name].(map[string]interface{}); ok {
		return nested
	}
	flat := make(map[string]interface{})
	prefix := name + "."
	for k, v := range data {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			flat[k[len(prefix):]] = v
		}
	}
	return flat
}

// parsePositiveInt extracts a positive integer from interface{} value.
// Supports both int and float64 types (YAML/JSON may vary).
func parsePositiveInt(value interface{}) (int, bool) {
	switch v := value.(type) {
	case int:
		if v > 0 {
			return v, true
		}
	case int64:
		if v > 0 {
			return int(v), true
		}
	case float64:
		if v > 0 && v == float64(int(v)) {
			return int(v), true
		}
	}
	return 0, false
}

// parseIntInRange extracts an integer within the specified range [min, max].
func parseIntInRange(value interface{}, min, max int) (int, bool) {
	switch v := value.(type) {
	case int:
		if v >= min && v <= max {
			return v, true
		}
	case int64:
		if v >= int64(min) && v <= int64(max) {
			return int(v), true
		}
	case float64:
		if v >= float64(min) && v <= float64(max) && v == float64(int(v)) {
			return int(v), true
		}
	}
	return 0, false
}

// parseDuration extracts a time.Duration from a string value.
func parseDuration(value interface{}) (time.Duration, bool) {
	if str, ok := value.(string); ok {
		if d, err := time.ParseDuration(str); err == nil {
			return d, true
		}
	}
	return 0, false
}
