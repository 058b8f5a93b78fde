// server.go: HTTP routes for tachysd
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agilira/tachys"
)

type server struct {
	opt     *tachys.Optimizer
	logger  tachys.Logger
	timeout time.Duration
	engine  *gin.Engine
}

type renderReport struct {
	DurationMs float64 `json:"duration_ms" binding:"gte=0"`
}

func newServer(opt *tachys.Optimizer, logger tachys.Logger, timeout time.Duration) *server {
	s := &server{
		opt:     opt,
		logger:  logger,
		timeout: timeout,
		engine:  gin.New(),
	}
	s.engine.Use(gin.Recovery(), s.logRequests())

	s.engine.GET("/health", s.health)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.engine.Group("/v1")
	v1.GET("/values/:key", s.getValue)
	v1.GET("/stats", s.stats)
	v1.GET("/summary", s.summary)
	v1.POST("/renders", s.recordRender)
	v1.POST("/monitoring/start", s.startMonitoring)
	v1.POST("/monitoring/stop", s.stopMonitoring)
	v1.DELETE("/cache", s.clearCache)

	return s
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

func (s *server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request completed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).String(),
			"size", c.Writer.Size())
	}
}

func (s *server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": tachys.Version})
}

func (s *server) getValue(c *gin.Context) {
	key := c.Param("key")

	ctx := c.Request.Context()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	value, err := s.opt.Load(ctx, key, nil, 0)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.logger.Warn("value load failed", "key", key, "error", err)
		}
		c.JSON(status, gin.H{
			"key":   key,
			"error": err.Error(),
			"code":  string(tachys.GetErrorCode(err)),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "value": value})
}

func (s *server) stats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"cache":      s.opt.GetCacheStats(),
		"batcher":    s.opt.BatcherStats(),
		"monitoring": s.opt.IsMonitoring(),
	})
}

func (s *server) summary(c *gin.Context) {
	sum := s.opt.GetPerformanceSummary()
	c.JSON(http.StatusOK, gin.H{
		"avg_api_response_ms": durationMs(sum.AvgAPIResponseTime),
		"avg_cache_hit_rate":  sum.AvgCacheHitRate,
		"avg_render_ms":       durationMs(sum.AvgRenderTime),
		"total_requests":      sum.TotalRequests,
		"api_samples":         sum.APISamples,
		"cache_samples":       sum.CacheSamples,
		"render_samples":      sum.RenderSamples,
	})
}

func (s *server) recordRender(c *gin.Context) {
	var report renderReport
	if err := c.ShouldBindJSON(&report); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.opt.RecordRender(time.Duration(report.DurationMs * float64(time.Millisecond)))
	c.Status(http.StatusAccepted)
}

func (s *server) startMonitoring(c *gin.Context) {
	s.opt.StartMonitoring()
	c.JSON(http.StatusOK, gin.H{"monitoring": s.opt.IsMonitoring()})
}

func (s *server) stopMonitoring(c *gin.Context) {
	s.opt.StopMonitoring()
	c.JSON(http.StatusOK, gin.H{"monitoring": s.opt.IsMonitoring()})
}

func (s *server) clearCache(c *gin.Context) {
	s.opt.ClearCache()
	c.Status(http.StatusNoContent)
}

func statusFor(err error) int {
	switch {
	case tachys.IsEmptyKey(err):
		return http.StatusBadRequest
	case stderrors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case tachys.IsConfigError(err):
		return http.StatusServiceUnavailable
	case tachys.GetErrorCode(err) == tachys.ErrCodeMissingResponse:
		return http.StatusNotFound
	case tachys.IsBatchError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
