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
	"net/http"
	"time"

	"github.com/AleutianAI/pbartrace/internal/pberrors"
	"github.com/AleutianAI/pbartrace/internal/predictor"
	"github.com/AleutianAI/pbartrace/internal/schema"
	"github.com/AleutianAI/pbartrace/pkg/validation"
	"github.com/AleutianAI/pbartrace/services/telemetry/middleware"
	"github.com/AleutianAI/pbartrace/services/telemetry/observability"
	"github.com/gin-gonic/gin"
)

// queryEstimateRequest is the wire shape of query_estimate (§4.F).
//
// Position 0 (or omitted) asks for the whole-trace estimate; any other
// position asks for that single step's predicted duration. IterationsByStep
// supplies per-position iteration counts for iterated steps feeding the
// whole-trace estimate; Iterations supplies the single step's count.
type queryEstimateRequest struct {
	BarName          string      `json:"bar_name" binding:"required"`
	Position         int         `json:"position"`
	Iterations       int         `json:"iterations"`
	IterationsByStep map[int]int `json:"iterations_by_step"`
}

type queryEstimateResponse struct {
	EstimatedSeconds float64 `json:"estimated_seconds"`
	Ready            bool    `json:"ready"`
}

// QueryEstimate handles POST /v1/traces/query_estimate.
func QueryEstimate(registry *schema.Registry, engine *predictor.Engine, m *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req queryEstimateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
			return
		}
		ownerSub := middleware.OwnerSub(c)
		if err := validation.ValidateOwnerSub(ownerSub); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
			return
		}
		if err := validation.ValidateName("bar_name", req.BarName); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
			return
		}

		ctx := c.Request.Context()
		bar, err := registry.Resolve(ctx, ownerSub, req.BarName)
		if err != nil {
			writeErr(c, m, "query_estimate", err)
			return
		}

		start := time.Now()
		var (
			estimate float64
			ready    bool
			operation string
		)
		if req.Position == 0 {
			operation = "predict_whole"
			estimate, ready, err = engine.PredictWhole(ctx, bar, ownerSub, req.BarName, bar.Bar.Version, req.IterationsByStep)
			if err != nil {
				writeErr(c, m, "query_estimate", err)
				return
			}
			if !ready {
				estimate, ready, err = engine.DirectWholeEstimate(ctx, bar)
				if err != nil {
					writeErr(c, m, "query_estimate", err)
					return
				}
			}
		} else {
			operation = "predict_step"
			if _, ok := bar.StepAt(req.Position); !ok {
				writeErr(c, m, "query_estimate", pberrors.New(pberrors.KindValidationError, "no step at position %d for bar %q", req.Position, req.BarName))
				return
			}
			estimate, ready, err = engine.PredictStep(ctx, bar, ownerSub, req.BarName, bar.Bar.Version, req.Position, req.Iterations)
			if err != nil {
				writeErr(c, m, "query_estimate", err)
				return
			}
		}
		if m != nil {
			m.RecordPredictorQuery(operation, time.Since(start).Seconds())
			m.RecordEvent("query_estimate", true)
		}
		c.JSON(http.StatusOK, queryEstimateResponse{EstimatedSeconds: estimate, Ready: ready})
	}
}
