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
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/pbartrace/internal/hotstore"
	"github.com/AleutianAI/pbartrace/internal/subscription"
)

func TestStreamTrace_RejectsInvalidBarNameBeforeUpgrade(t *testing.T) {
	hot := hotstore.NewMemoryStore()
	fabric := subscription.NewFabric(hot)

	router := gin.New()
	withAuth(router)
	router.GET("/subscribe_trace", StreamTrace(fabric, hot, nil))

	req := httptest.NewRequest(http.MethodGet, "/subscribe_trace?bar_name=bad:name&trace_uid=tr_1", nil)
	req.Header.Set("Authorization", "Bearer "+testOwnerSub)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStreamTrace_RejectsUnauthenticated(t *testing.T) {
	hot := hotstore.NewMemoryStore()
	fabric := subscription.NewFabric(hot)

	router := gin.New()
	withAuth(router)
	router.GET("/subscribe_trace", StreamTrace(fabric, hot, nil))

	req := httptest.NewRequest(http.MethodGet, "/subscribe_trace?bar_name=daily-build&trace_uid=tr_1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
