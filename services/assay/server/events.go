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

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianAssay/services/assay"
	"github.com/AleutianAI/AleutianAssay/services/assay/history"
)

// RunEvent is one message on the /api/v1/events stream.
type RunEvent struct {
	Type string          `json:"type"`
	Run  history.Summary `json:"run"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 64 * 1024,
}

func sendJSON(ws *websocket.Conn, v interface{}) error {
	err := ws.WriteJSON(v)
	if err != nil {
		slog.Warn("Failed to write WebSocket JSON", "error", err)
	}
	return err
}

// handleEvents streams a summary of every newly stored run to the
// client until it disconnects.
//
// Description:
//
//	Upgrades the request to a websocket and subscribes to the history
//	store. Each run stored while the connection lives is pushed as one
//	RunEvent JSON message. A reader pump detects client disconnects
//	and cancels the subscription.
func (s *Server) handleEvents(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("failed to upgrade the websocket", slog.String("error", err.Error()))
		return
	}
	defer ws.Close()
	s.logger.Info("events client connected", slog.String("remote", ws.RemoteAddr().String()))

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Reader pump. The client sends nothing meaningful; reads exist to
	// surface the close frame.
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	// Writes happen only from this subscription callback; badger
	// serializes them.
	err = s.store.Subscribe(ctx, func(run *assay.RunResult) {
		ev := RunEvent{
			Type: "run_finished",
			Run: history.Summary{
				RunID:      run.RunID,
				StartedAt:  run.StartedAt,
				FinishedAt: run.FinishedAt,
				State:      string(run.State),
				Mode:       run.Mode,
				Total:      len(run.Verdicts),
				Passed:     run.Passed,
				Failed:     run.Failed,
				TimedOut:   run.TimedOut,
				Errored:    run.Errored,
			},
		}
		if err := sendJSON(ws, ev); err != nil {
			cancel()
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("run subscription ended", slog.String("error", err.Error()))
	}
	s.logger.Info("events client disconnected")
}
