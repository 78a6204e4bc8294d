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
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/pbartrace/internal/clockid"
	"github.com/AleutianAI/pbartrace/internal/durable"
	"github.com/AleutianAI/pbartrace/internal/hotstore"
	"github.com/AleutianAI/pbartrace/internal/intake"
	"github.com/AleutianAI/pbartrace/internal/predictor"
	"github.com/AleutianAI/pbartrace/internal/schema"
	"github.com/AleutianAI/pbartrace/pkg/extensions"
	"github.com/AleutianAI/pbartrace/services/telemetry/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testOwnerSub = "owner-1"

func newTestMachine(t *testing.T) *intake.Machine {
	t.Helper()
	store := schema.NewMemoryStore()
	_, err := store.PutBar(context.Background(), schema.ProgressBar{
		OwnerSub: testOwnerSub, Name: "daily-build",
		SamplingMaxCount: 10, SamplingMaxAgeSeconds: 3600, SamplingTechnique: schema.SamplingSystematic,
	}, []schema.StepSpec{
		{Position: 0, Name: schema.DefaultStepName, OneOffTechnique: schema.TechniqueArithmeticMean},
		{Position: 1, Name: "compile", OneOffTechnique: schema.TechniqueArithmeticMean},
	})
	require.NoError(t, err)

	registry := schema.NewRegistry(store)
	hot := hotstore.NewMemoryStore()
	dur := durable.NewMemoryStore()
	engine := predictor.NewEngine(dur)
	return intake.NewMachine(registry, hot, dur, engine, clockid.NewSystemClock())
}

func authedRequest(method, path string, body any) *http.Request {
	var reader *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testOwnerSub)
	return req
}

func withAuth(router *gin.Engine) {
	router.Use(middleware.AuthMiddleware(extensions.NopAuthProvider{}))
}

func TestBeginStep_Accepted(t *testing.T) {
	machine := newTestMachine(t)
	router := gin.New()
	withAuth(router)
	router.POST("/begin_step", BeginStep(machine, nil))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest(http.MethodPost, "/begin_step", beginStepRequest{
		BarName: "daily-build", TraceUID: "tr_1", Position: 1, StepName: "compile",
	}))

	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestBeginStep_SchemaDriftMapsTo422(t *testing.T) {
	machine := newTestMachine(t)
	router := gin.New()
	withAuth(router)
	router.POST("/begin_step", BeginStep(machine, nil))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest(http.MethodPost, "/begin_step", beginStepRequest{
		BarName: "daily-build", TraceUID: "tr_1", Position: 1, StepName: "wrong-name",
	}))

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestBeginStep_InvalidBarNameRejectedBeforeMachine(t *testing.T) {
	machine := newTestMachine(t)
	router := gin.New()
	withAuth(router)
	router.POST("/begin_step", BeginStep(machine, nil))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest(http.MethodPost, "/begin_step", beginStepRequest{
		BarName: "bad:name", TraceUID: "tr_1", Position: 1, StepName: "compile",
	}))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFullIngestLifecycle(t *testing.T) {
	machine := newTestMachine(t)
	router := gin.New()
	withAuth(router)
	router.POST("/begin_step", BeginStep(machine, nil))
	router.POST("/finish_step", FinishStep(machine, nil))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest(http.MethodPost, "/begin_step", beginStepRequest{
		BarName: "daily-build", TraceUID: "tr_2", Position: 1, StepName: "compile",
	}))
	require.Equal(t, http.StatusAccepted, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest(http.MethodPost, "/finish_step", finishStepRequest{
		BarName: "daily-build", TraceUID: "tr_2", Position: 1,
	}))
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	machine := newTestMachine(t)
	router := gin.New()
	withAuth(router)
	router.POST("/begin_step", BeginStep(machine, nil))

	req := httptest.NewRequest(http.MethodPost, "/begin_step", bytes.NewReader(nil))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
