// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/AleutianAI/pbartrace/internal/hotstore"
	"github.com/AleutianAI/pbartrace/internal/subscription"
	"github.com/AleutianAI/pbartrace/pkg/validation"
	"github.com/AleutianAI/pbartrace/services/telemetry/middleware"
	"github.com/AleutianAI/pbartrace/services/telemetry/observability"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 4 * 1024,
}

// traceSnapshot is one subscribe_trace push: the current trace hash plus
// its step hashes, re-read from the hot store after each mutation
// notification (§4.G).
type traceSnapshot struct {
	Trace  hotstore.TraceHash  `json:"trace"`
	Steps  []hotstore.StepHash `json:"steps"`
	Lagged bool                `json:"lagged"`
}

func sendJSON(ws *websocket.Conn, v interface{}) error {
	err := ws.WriteJSON(v)
	if err != nil {
		slog.Warn("failed to write subscribe_trace frame", "error", err)
	}
	return err
}

// StreamTrace handles GET /v1/traces/subscribe_trace, a websocket upgrade
// that pushes a fresh traceSnapshot every time the hot store reports a
// mutation on (bar_name, trace_uid) (§4.G).
func StreamTrace(fabric *subscription.Fabric, hot hotstore.Store, m *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerSub := middleware.OwnerSub(c)
		barName := c.Query("bar_name")
		traceUID := c.Query("trace_uid")

		if err := validation.ValidateOwnerSub(ownerSub); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
			return
		}
		if err := validation.ValidateName("bar_name", barName); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
			return
		}
		if err := validation.ValidateTraceUID(traceUID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
			return
		}

		ctx := c.Request.Context()
		watch, err := fabric.Watch(ctx, ownerSub, barName, traceUID)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store_unavailable", "message": err.Error()})
			return
		}
		defer watch.Close()

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("subscribe_trace upgrade failed", "error", err)
			return
		}
		defer ws.Close()

		if m != nil {
			m.SubscriptionOpened()
			defer m.SubscriptionClosed()
		}

		if err := pushSnapshot(ctx, ws, hot, ownerSub, barName, traceUID, watch.Lagged()); err != nil {
			return
		}

		for {
			ok, err := watch.Next(ctx)
			if err != nil || !ok {
				return
			}
			if err := pushSnapshot(ctx, ws, hot, ownerSub, barName, traceUID, watch.Lagged()); err != nil {
				return
			}
		}
	}
}

// pushSnapshot re-reads the trace hash and every step hash from the hot
// store and pushes them as one frame. Steps beyond current_step are
// omitted (they have not started yet).
func pushSnapshot(ctx context.Context, ws *websocket.Conn, hot hotstore.Store, ownerSub, barName, traceUID string, lagged bool) error {
	trace, ok, err := hot.GetTrace(ctx, ownerSub, barName, traceUID)
	if err != nil {
		return err
	}
	if !ok {
		return sendJSON(ws, gin.H{"error": "not_found", "trace_uid": traceUID})
	}

	var steps []hotstore.StepHash
	for position := 1; position <= trace.CurrentStep; position++ {
		step, ok, err := hot.GetStep(ctx, ownerSub, barName, traceUID, position)
		if err != nil {
			return err
		}
		if ok {
			steps = append(steps, step)
		}
	}

	return sendJSON(ws, traceSnapshot{Trace: trace, Steps: steps, Lagged: lagged})
}
