// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package routes wires the five ingest operations (§4.D, §6) and the
// health/metrics endpoints onto a gin.Engine.
package routes

import (
	"github.com/AleutianAI/pbartrace/internal/hotstore"
	"github.com/AleutianAI/pbartrace/internal/intake"
	"github.com/AleutianAI/pbartrace/internal/predictor"
	"github.com/AleutianAI/pbartrace/internal/schema"
	"github.com/AleutianAI/pbartrace/internal/subscription"
	"github.com/AleutianAI/pbartrace/pkg/extensions"
	"github.com/AleutianAI/pbartrace/services/telemetry/handlers"
	"github.com/AleutianAI/pbartrace/services/telemetry/middleware"
	"github.com/AleutianAI/pbartrace/services/telemetry/observability"
	"github.com/gin-gonic/gin"
)

// Deps collects everything the route handlers close over. Keeping this
// as a single struct avoids a long positional parameter list at the
// SetupRoutes call site as the service grows.
type Deps struct {
	Machine  *intake.Machine
	Registry *schema.Registry
	Engine   *predictor.Engine
	Fabric   *subscription.Fabric
	Hot      hotstore.Store
	Auth     extensions.AuthProvider
	Metrics  *observability.Metrics
}

// SetupRoutes registers every route on router.
func SetupRoutes(router *gin.Engine, d Deps) {
	router.GET("/health", handlers.HealthCheck)

	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(d.Auth))
	{
		traces := v1.Group("/traces")
		traces.POST("/begin_step", handlers.BeginStep(d.Machine, d.Metrics))
		traces.POST("/progress_step", handlers.ProgressStep(d.Machine, d.Metrics))
		traces.POST("/finish_step", handlers.FinishStep(d.Machine, d.Metrics))
		traces.POST("/query_estimate", handlers.QueryEstimate(d.Registry, d.Engine, d.Metrics))
		traces.GET("/subscribe_trace", handlers.StreamTrace(d.Fabric, d.Hot, d.Metrics))
		traces.GET("/poll_trace", handlers.PollTrace(d.Fabric, d.Hot))
	}
}
