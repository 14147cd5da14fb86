// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianAssay/services/assay/history"
	"github.com/AleutianAI/AleutianAssay/services/assay/report"
	"github.com/AleutianAI/AleutianAssay/services/assay/telemetry"
)

// handleHealth reports liveness.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleListRuns returns run summaries, newest first.
//
// Query parameters:
//
//	limit - Maximum number of runs to return. 0 or absent means all.
func (s *Server) handleListRuns(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	summaries, err := s.store.List(c.Request.Context(), limit)
	if err != nil {
		s.serverError(c, "list runs", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count": len(summaries),
		"runs":  summaries,
	})
}

// handleGetRun returns one run in full, verdicts included.
func (s *Server) handleGetRun(c *gin.Context) {
	id := c.Param("id")
	run, err := s.store.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, history.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found", "run_id": id})
			return
		}
		s.serverError(c, "load run", err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// handleRunReport serves the rendered HTML report for one run.
func (s *Server) handleRunReport(c *gin.Context) {
	id := c.Param("id")
	html, err := s.renderReport(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, history.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found", "run_id": id})
			return
		}
		s.serverError(c, "render report", err)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(html))
}

// renderReport returns the cached HTML for a run, rendering it at most
// once per id even under concurrent requests.
func (s *Server) renderReport(ctx context.Context, id string) (string, error) {
	s.cacheMu.RLock()
	html, ok := s.reportCache[id]
	s.cacheMu.RUnlock()
	if ok {
		return html, nil
	}

	v, err, _ := s.flight.Do(id, func() (interface{}, error) {
		run, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		payload := report.BuildPayload(run, report.DefaultConfig().TimestampFormat, nil)
		rendered, err := report.RenderHTML(payload)
		if err != nil {
			return nil, err
		}
		s.cacheMu.Lock()
		s.reportCache[id] = rendered
		s.cacheMu.Unlock()
		return rendered, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// handleTrend compares two runs and returns the per-case changes.
//
// Query parameters:
//
//	before, after - Explicit run ids. Both absent compares the two
//	most recent runs; supplying only one is an error.
func (s *Server) handleTrend(c *gin.Context) {
	ctx := c.Request.Context()
	beforeID := c.Query("before")
	afterID := c.Query("after")

	if (beforeID == "") != (afterID == "") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "before and after must be supplied together"})
		return
	}

	var (
		trend *report.TrendReport
		err   error
	)
	if beforeID == "" {
		before, after, lerr := s.store.LastTwo(ctx)
		if lerr != nil {
			err = lerr
		} else {
			trend = report.Compare(before, after)
		}
	} else {
		trend, err = s.compareByID(ctx, beforeID, afterID)
	}
	if err != nil {
		if errors.Is(err, history.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		s.serverError(c, "build trend", err)
		return
	}
	c.JSON(http.StatusOK, trend)
}

func (s *Server) compareByID(ctx context.Context, beforeID, afterID string) (*report.TrendReport, error) {
	before, err := s.store.Get(ctx, beforeID)
	if err != nil {
		return nil, err
	}
	after, err := s.store.Get(ctx, afterID)
	if err != nil {
		return nil, err
	}
	return report.Compare(before, after), nil
}

// serverError logs and answers a 500 without leaking internals.
func (s *Server) serverError(c *gin.Context, op string, err error) {
	logger := telemetry.LoggerWithTrace(c.Request.Context(), s.logger)
	logger.Error("request failed",
		slog.String("op", op),
		slog.String("path", c.FullPath()),
		slog.String("error", err.Error()),
	)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
