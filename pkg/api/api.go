// Package api implements the local HTTP status surface: /status,
// /cache/stats, and a Prometheus /metrics endpoint, following an
// options-pattern Server construction built on gin, the same stack
// pkg/telemetry/metrics already brings in for its Prometheus middleware,
// and extended with gin-contrib/pprof for profiling.
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"

	"github.com/cesnet/ipfixprobe-go/pkg/cache"
	"github.com/cesnet/ipfixprobe-go/pkg/capture"
	"github.com/cesnet/ipfixprobe-go/pkg/ipfix"
	"github.com/cesnet/ipfixprobe-go/pkg/telemetry/metrics"
)

// CaptureStatuser is the narrow view of a running capture worker the
// status endpoint needs; satisfied by *pkg/capture.Capture.
type CaptureStatuser interface {
	Status() capture.Status
}

// CacheStatser is the narrow view of a running storage worker the
// cache-stats endpoint needs; satisfied by *pkg/workers.StorageWorker,
// which reads its Cache through the same cross-goroutine request
// pattern capture.Capture.Status uses. One per capture interface, since
// each interface's storage worker owns a private cache.
type CacheStatser interface {
	Stats() cache.Stats
}

// ExporterStatser is the narrow view of a running export worker the
// status endpoint needs; satisfied by *pkg/workers.ExportWorker.
type ExporterStatser interface {
	Stats() ipfix.Stats
}

// Status is the /status response body.
type Status struct {
	Captures []capture.Status `json:"captures"`
	Cache    []cache.Stats    `json:"cache"`
	Exporter ipfix.Stats      `json:"exporter"`
}

// Server is ipfixprobe's status HTTP server.
type Server struct {
	addr   string
	engine *gin.Engine
	srv    *http.Server

	captures []CaptureStatuser
	caches   []CacheStatser
	exporter ExporterStatser
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics registers the Prometheus middleware and /metrics route
// under serviceName/subsystem via pkg/telemetry/metrics, with request
// duration buckets sized for this in-process status API rather than the
// library's upstream-service defaults.
func WithMetrics(serviceName, subsystem string) Option {
	return func(s *Server) {
		metrics.NewPrometheus(serviceName, subsystem).
			WithRequestDurationBuckets(metrics.StatusAPIDurationBuckets).
			Register(s.engine)
	}
}

// WithPprof mounts net/http/pprof's profiles under /debug/pprof.
func WithPprof() Option {
	return func(s *Server) {
		pprof.Register(s.engine)
	}
}

// New builds a Server listening on addr (host:port), reporting status
// for captures, cache, and exporter.
func New(addr string, captures []CaptureStatuser, caches []CacheStatser, exporter ExporterStatser, opts ...Option) (*Server, error) {
	if addr == "" {
		return nil, fmt.Errorf("no address provided for the API server")
	}

	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		addr:     addr,
		engine:   gin.New(),
		captures: captures,
		caches:   caches,
		exporter: exporter,
	}
	s.engine.Use(gin.Recovery())

	s.engine.GET("/status", s.handleStatus)
	s.engine.GET("/cache/stats", s.handleCacheStats)

	for _, opt := range opts {
		opt(s)
	}

	s.srv = &http.Server{Addr: addr, Handler: s.engine}
	return s, nil
}

// Run starts serving in a background goroutine; it returns
// immediately. Errors other than the expected shutdown error are sent
// to errCh if non-nil.
func (s *Server) Run(errCh chan<- error) {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if errCh != nil {
				errCh <- err
			}
		}
	}()
}

// Shutdown gracefully stops the server, waiting for in-flight requests
// to finish or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleStatus(c *gin.Context) {
	st := Status{}
	for _, cw := range s.captures {
		st.Captures = append(st.Captures, cw.Status())
	}
	for _, cache := range s.caches {
		st.Cache = append(st.Cache, cache.Stats())
	}
	if s.exporter != nil {
		st.Exporter = s.exporter.Stats()
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) handleCacheStats(c *gin.Context) {
	if len(s.caches) == 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no cache registered"})
		return
	}
	stats := make([]cache.Stats, len(s.caches))
	for i, cache := range s.caches {
		stats[i] = cache.Stats()
	}
	c.JSON(http.StatusOK, stats)
}
