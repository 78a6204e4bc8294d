// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware resolves the owner_sub every hot-store key and
// durable row is scoped to (§6) from the request's bearer token before a
// handler runs.
package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/AleutianAI/pbartrace/pkg/extensions"
	"github.com/gin-gonic/gin"
)

const authInfoKey = "pbartrace_auth_info"

// SetAuthInfo stores the resolved identity in the Gin context.
func SetAuthInfo(c *gin.Context, info *extensions.AuthInfo) {
	c.Set(authInfoKey, info)
}

// GetAuthInfo retrieves the identity AuthMiddleware resolved for this
// request, or nil if none was set.
func GetAuthInfo(c *gin.Context) *extensions.AuthInfo {
	if info, exists := c.Get(authInfoKey); exists {
		if authInfo, ok := info.(*extensions.AuthInfo); ok {
			return authInfo
		}
	}
	return nil
}

// OwnerSub is a convenience wrapper for the common case of just needing
// the caller's owner_sub. Returns empty string if unauthenticated.
func OwnerSub(c *gin.Context) string {
	info := GetAuthInfo(c)
	if info == nil {
		return ""
	}
	return info.OwnerSub
}

// AuthMiddleware extracts the bearer token, resolves it via provider, and
// stores the result for downstream handlers. Requests with a missing or
// invalid token are aborted with 401 before reaching the handler.
func AuthMiddleware(provider extensions.AuthProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)

		authInfo, err := provider.Validate(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, extensions.ErrUnauthorized) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication failed"})
			return
		}

		SetAuthInfo(c, authInfo)
		c.Next()
	}
}

// extractBearerToken parses "Authorization: Bearer <token>", case
// insensitive on the scheme. Returns "" if the header is absent or
// malformed.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
