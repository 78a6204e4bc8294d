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

import "context"

// UsageReporter is notified of completed traces so an external billing
// collaborator can reconcile against user_usages (§6). The hot store's own
// monthly counter (internal/hotstore.Store.IncrMonthlyCounter) is always
// updated regardless of whether a UsageReporter is wired; this interface
// exists for collaborators that need the richer per-trace event, not just
// the aggregate count.
type UsageReporter interface {
	Report(ctx context.Context, ownerSub, barName, traceUID string, retained bool) error
}

// NopUsageReporter discards every report.
type NopUsageReporter struct{}

// Report is a no-op.
func (NopUsageReporter) Report(context.Context, string, string, string, bool) error { return nil }
