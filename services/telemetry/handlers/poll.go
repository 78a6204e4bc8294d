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
	"net/http"
	"time"

	"github.com/AleutianAI/pbartrace/internal/hotstore"
	"github.com/AleutianAI/pbartrace/internal/subscription"
	"github.com/AleutianAI/pbartrace/pkg/validation"
	"github.com/AleutianAI/pbartrace/services/telemetry/middleware"
	"github.com/gin-gonic/gin"
)

// defaultPollWait bounds how long poll_trace blocks waiting for a fresh
// mutation notification before returning the latest snapshot anyway.
const defaultPollWait = 20 * time.Second

// PollTrace handles GET /v1/traces/poll_trace, the long-poll fallback for
// readers that cannot hold a websocket open (§4.G). It waits up to
// defaultPollWait for a mutation notification and then returns whatever
// the current snapshot is, new or not — callers distinguish "nothing
// changed" from "changed" by comparing LastUpdatedAt against their
// previous poll.
func PollTrace(fabric *subscription.Fabric, hot hotstore.Store) gin.HandlerFunc {
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

		ctx, cancel := context.WithTimeout(c.Request.Context(), defaultPollWait)
		defer cancel()

		watch, err := fabric.Watch(ctx, ownerSub, barName, traceUID)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store_unavailable", "message": err.Error()})
			return
		}
		defer watch.Close()

		// Block for either a mutation or the poll deadline; either way we
		// return the current snapshot next.
		_, _ = watch.Next(ctx)

		trace, ok, err := hot.GetTrace(c.Request.Context(), ownerSub, barName, traceUID)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store_unavailable", "message": err.Error()})
			return
		}
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "trace_uid": traceUID})
			return
		}

		var steps []hotstore.StepHash
		for position := 1; position <= trace.CurrentStep; position++ {
			step, ok, err := hot.GetStep(c.Request.Context(), ownerSub, barName, traceUID, position)
			if err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store_unavailable", "message": err.Error()})
				return
			}
			if ok {
				steps = append(steps, step)
			}
		}

		c.JSON(http.StatusOK, traceSnapshot{Trace: trace, Steps: steps, Lagged: watch.Lagged()})
	}
}
