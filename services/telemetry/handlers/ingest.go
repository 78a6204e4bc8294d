// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers is the thin HTTP translation layer over the trace
// intake core: it decodes JSON request bodies into the core's event
// types, calls internal/intake.Machine, and maps its typed errors to
// HTTP status codes. No ingest semantics live here.
package handlers

import (
	"net/http"
	"time"

	"github.com/AleutianAI/pbartrace/internal/intake"
	"github.com/AleutianAI/pbartrace/internal/pberrors"
	"github.com/AleutianAI/pbartrace/pkg/validation"
	"github.com/AleutianAI/pbartrace/services/telemetry/middleware"
	"github.com/AleutianAI/pbartrace/services/telemetry/observability"
	"github.com/gin-gonic/gin"
)

// kindToStatus maps a pberrors.Kind to the HTTP status the transport
// edge reports it as. No other layer branches on Kind this way.
func kindToStatus(kind pberrors.Kind) int {
	switch kind {
	case pberrors.KindNoSuchBar:
		return http.StatusNotFound
	case pberrors.KindSchemaDrift, pberrors.KindValidationError:
		return http.StatusUnprocessableEntity
	case pberrors.KindConflict:
		return http.StatusConflict
	case pberrors.KindRateLimited:
		return http.StatusTooManyRequests
	case pberrors.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeErr(c *gin.Context, m *observability.Metrics, eventKind string, err error) {
	kind := pberrors.KindOf(err)
	if m != nil {
		m.RecordEvent(eventKind, false)
		m.RecordEventError(kind.String())
	}
	c.JSON(kindToStatus(kind), gin.H{"error": kind.String(), "message": err.Error()})
}

// beginStepRequest is the wire shape of begin_step (§4.D StepStart).
type beginStepRequest struct {
	BarName       string    `json:"bar_name" binding:"required"`
	TraceUID      string    `json:"trace_uid" binding:"required"`
	Position      int       `json:"position" binding:"required"`
	StepName      string    `json:"step_name" binding:"required"`
	Iterations    int       `json:"iterations"`
	HasIterations bool      `json:"has_iterations"`
	At            time.Time `json:"at"`
}

// BeginStep handles POST /v1/traces/begin_step.
func BeginStep(machine *intake.Machine, m *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req beginStepRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
			return
		}
		ownerSub := middleware.OwnerSub(c)
		if err := validateIdentifiers(ownerSub, req.BarName, req.TraceUID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
			return
		}
		at := req.At
		if at.IsZero() {
			at = time.Now().UTC()
		}
		ev := intake.StepStartEvent{
			Position:      req.Position,
			StepName:      req.StepName,
			Iterations:    req.Iterations,
			HasIterations: req.HasIterations,
			At:            at,
		}
		if err := machine.Begin(c.Request.Context(), ownerSub, req.BarName, req.TraceUID, ev); err != nil {
			writeErr(c, m, "begin", err)
			return
		}
		if m != nil {
			m.RecordEvent("begin", true)
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "ok"})
	}
}

// progressStepRequest is the wire shape of progress_step (§4.D StepProgress).
type progressStepRequest struct {
	BarName   string    `json:"bar_name" binding:"required"`
	TraceUID  string    `json:"trace_uid" binding:"required"`
	Position  int       `json:"position" binding:"required"`
	Iteration int       `json:"iteration" binding:"required"`
	At        time.Time `json:"at"`
}

// ProgressStep handles POST /v1/traces/progress_step.
func ProgressStep(machine *intake.Machine, m *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req progressStepRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
			return
		}
		ownerSub := middleware.OwnerSub(c)
		if err := validateIdentifiers(ownerSub, req.BarName, req.TraceUID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
			return
		}
		at := req.At
		if at.IsZero() {
			at = time.Now().UTC()
		}
		ev := intake.StepProgressEvent{Position: req.Position, Iteration: req.Iteration, At: at}
		if err := machine.Progress(c.Request.Context(), ownerSub, req.BarName, req.TraceUID, ev); err != nil {
			writeErr(c, m, "progress", err)
			return
		}
		if m != nil {
			m.RecordEvent("progress", true)
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "ok"})
	}
}

// finishStepRequest is the wire shape of finish_step (§4.D StepFinish).
type finishStepRequest struct {
	BarName  string    `json:"bar_name" binding:"required"`
	TraceUID string    `json:"trace_uid" binding:"required"`
	Position int       `json:"position" binding:"required"`
	At       time.Time `json:"at"`
}

// FinishStep handles POST /v1/traces/finish_step.
func FinishStep(machine *intake.Machine, m *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req finishStepRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
			return
		}
		ownerSub := middleware.OwnerSub(c)
		if err := validateIdentifiers(ownerSub, req.BarName, req.TraceUID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
			return
		}
		at := req.At
		if at.IsZero() {
			at = time.Now().UTC()
		}
		ev := intake.StepFinishEvent{Position: req.Position, At: at}
		if err := machine.Finish(c.Request.Context(), ownerSub, req.BarName, req.TraceUID, ev); err != nil {
			writeErr(c, m, "finish", err)
			return
		}
		if m != nil {
			m.RecordEvent("finish", true)
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "ok"})
	}
}

func validateIdentifiers(ownerSub, barName, traceUID string) error {
	if err := validation.ValidateOwnerSub(ownerSub); err != nil {
		return err
	}
	if err := validation.ValidateName("bar_name", barName); err != nil {
		return err
	}
	return validation.ValidateTraceUID(traceUID)
}
