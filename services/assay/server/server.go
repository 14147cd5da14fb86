// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server exposes stored regression runs over HTTP.
//
// The server is read-only: runs are produced by the CLI and watch mode,
// stored in the history store, and served here for dashboards and CI
// integrations. Endpoints live under /api/v1; /metrics is exposed when
// the Prometheus exporter is active.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/AleutianAssay/services/assay/history"
	"github.com/AleutianAI/AleutianAssay/services/assay/telemetry"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNilStore indicates the server was built without a history store.
	ErrNilStore = errors.New("history store must not be nil")
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config controls the HTTP server.
type Config struct {
	// Addr is the listen address, e.g. ":8089".
	Addr string

	// CORSOrigins lists origins allowed to call the API from a
	// browser. Empty disables CORS headers entirely.
	CORSOrigins []string

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration

	// Debug enables gin debug mode and request logging.
	Debug bool
}

// DefaultConfig returns the server defaults.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8089",
		ShutdownTimeout: 10 * time.Second,
	}
}

// =============================================================================
// SERVER
// =============================================================================

// Server serves stored runs, rendered reports, and a live event feed.
//
// Thread Safety: Safe for concurrent use after NewServer returns.
type Server struct {
	cfg    Config
	store  *history.Store
	logger *slog.Logger
	router *gin.Engine

	// Rendered HTML reports keyed by run id. Stored runs are immutable
	// and history retention bounds the key space, so entries are never
	// evicted. singleflight collapses concurrent first renders.
	flight      singleflight.Group
	reportCache map[string]string
	cacheMu     sync.RWMutex
}

// NewServer builds the server and registers all routes.
//
// Description:
//
//	Wires the gin engine with recovery, otelgin tracing, and optional
//	CORS middleware, then registers the API routes. The /metrics route
//	is added only when the Prometheus exporter was initialized.
//
// Inputs:
//
//	cfg - Server configuration. Zero fields fall back to DefaultConfig.
//	store - History store serving run data. Must not be nil.
//	logger - Structured logger. Nil falls back to slog.Default().
//
// Outputs:
//
//	*Server - The ready-to-run server.
//	error - ErrNilStore when store is nil.
func NewServer(cfg Config, store *history.Store, logger *slog.Logger) (*Server, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultConfig().Addr
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultConfig().ShutdownTimeout
	}

	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:         cfg,
		store:       store,
		logger:      logger,
		reportCache: make(map[string]string),
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("assay-server"))
	if cfg.Debug {
		router.Use(gin.Logger())
	}
	if len(cfg.CORSOrigins) > 0 {
		router.Use(corsMiddleware(cfg.CORSOrigins))
	}

	router.GET("/healthz", s.handleHealth)
	if mh := telemetry.MetricsHandler(); mh != nil {
		router.GET("/metrics", gin.WrapH(mh))
	}

	v1 := router.Group("/api/v1")
	{
		v1.GET("/runs", s.handleListRuns)
		v1.GET("/runs/:id", s.handleGetRun)
		v1.GET("/runs/:id/report", s.handleRunReport)
		v1.GET("/trend", s.handleTrend)
		v1.GET("/events", s.handleEvents)
	}

	s.router = router
	return s, nil
}

// Handler returns the HTTP handler for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is canceled, then shuts down gracefully.
//
// Description:
//
//	Starts the HTTP listener in a goroutine and blocks on ctx. On
//	cancellation, in-flight requests get ShutdownTimeout to finish.
//
// Inputs:
//
//	ctx - Typically a signal.NotifyContext from the CLI.
//
// Outputs:
//
//	error - Non-nil on listener failure or unclean shutdown.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Addr,
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("assay server listening", slog.String("addr", s.cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve %s: %w", s.cfg.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("assay server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// corsMiddleware allows the configured origins. "*" allows any.
func corsMiddleware(origins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(origins))
	wildcard := false
	for _, o := range origins {
		if o == "*" {
			wildcard = true
		}
		allowed[o] = true
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (wildcard || allowed[origin]) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
