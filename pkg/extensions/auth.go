// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extensions

import (
	"context"
	"errors"
)

// ErrUnauthorized is returned when a bearer token fails validation.
var ErrUnauthorized = errors.New("unauthorized")

// AuthInfo is the identity resolved from an inbound request's bearer
// token. OwnerSub is the owner_sub that every hot-store key (§6) and
// durable row is scoped to; it is the only field the core cares about.
type AuthInfo struct {
	OwnerSub string
}

// AuthProvider validates a bearer token and resolves it to an owner_sub.
//
// Implementations must be safe for concurrent use.
type AuthProvider interface {
	// Validate checks token and returns the caller's identity.
	//
	// Returns ErrUnauthorized (or a wrapping error) if the token is
	// missing or invalid.
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// NopAuthProvider accepts any non-empty token and uses it verbatim as
// owner_sub. Suitable for single-tenant local deployments and for
// fronting the service with a reverse proxy that already authenticated
// the caller and forwards their subject as the bearer token.
type NopAuthProvider struct{}

// Validate implements AuthProvider.
func (NopAuthProvider) Validate(_ context.Context, token string) (*AuthInfo, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}
	return &AuthInfo{OwnerSub: token}, nil
}
