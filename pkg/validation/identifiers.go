// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation for identifiers that flow
// into the hot-store keyspace (§6). Using these validators before any key
// is built from caller-supplied strings prevents keyspace collisions and
// malformed keys (a bar_name or step_name containing the `:` separator
// could otherwise be used to forge a neighboring key).
package validation

import (
	"fmt"
	"regexp"
)

// ownerSubPattern matches an owner subject identifier: the `sub` claim of
// whatever auth token fronts the service. Conservative but permissive
// enough for a UUID, an email-derived subject, or an OAuth `sub`.
var ownerSubPattern = regexp.MustCompile(`^[a-zA-Z0-9_.\-@]{1,128}$`)

// namePattern matches a bar_name or step_name: lowercase-oriented,
// hyphen/underscore separated, no colons (the keyspace separator).
var namePattern = regexp.MustCompile(`^[a-zA-Z0-9_\-]{1,64}$`)

// traceUIDPattern matches a trace_uid: the caller mints this, so it is
// validated the same as any other name-shaped identifier.
var traceUIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_\-]{1,128}$`)

// percentilePattern matches the {P} portion of a percentile_{P}
// technique_key (§6): an integer in [0, 100].
var percentilePattern = regexp.MustCompile(`^(100|[0-9]{1,2})$`)

// ValidateOwnerSub validates an owner subject identifier.
func ValidateOwnerSub(ownerSub string) error {
	if ownerSub == "" {
		return fmt.Errorf("owner_sub cannot be empty")
	}
	if !ownerSubPattern.MatchString(ownerSub) {
		return fmt.Errorf("invalid owner_sub format: %q", ownerSub)
	}
	return nil
}

// ValidateName validates a bar_name or step_name. The reserved step name
// "default" (§3) is accepted here; callers that must reject it as a step
// name (rather than the position-0 default spec) check that separately.
func ValidateName(kind, name string) error {
	if name == "" {
		return fmt.Errorf("%s cannot be empty", kind)
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("invalid %s format: %q (must be 1-64 chars of letters, digits, hyphens, underscores)", kind, name)
	}
	return nil
}

// ValidateTraceUID validates a trace_uid.
func ValidateTraceUID(traceUID string) error {
	if traceUID == "" {
		return fmt.Errorf("trace_uid cannot be empty")
	}
	if !traceUIDPattern.MatchString(traceUID) {
		return fmt.Errorf("invalid trace_uid format: %q", traceUID)
	}
	return nil
}

// ValidatePercentile validates the integer percentile embedded in a
// percentile_{P} technique_key.
func ValidatePercentile(p int) error {
	if p < 0 || p > 100 {
		return fmt.Errorf("percentile out of range: %d (must be 0-100)", p)
	}
	return nil
}

// ValidateTechniqueKey validates a technique_key string against the §6
// grammar: arithmetic_mean | geometric_mean | harmonic_mean |
// best_fit.linear | percentile_{P}.
func ValidateTechniqueKey(key string) error {
	switch key {
	case "arithmetic_mean", "geometric_mean", "harmonic_mean", "best_fit.linear":
		return nil
	}
	const prefix = "percentile_"
	if len(key) <= len(prefix) || key[:len(prefix)] != prefix {
		return fmt.Errorf("invalid technique_key: %q", key)
	}
	p := key[len(prefix):]
	if !percentilePattern.MatchString(p) {
		return fmt.Errorf("invalid technique_key percentile suffix: %q", key)
	}
	return nil
}
