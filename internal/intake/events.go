// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package intake is the §4.D trace intake state machine: it validates
// incoming step events against the bar's schema, detects drift, advances a
// trace through fresh → running → completed | aborted, and hands completed
// traces to the sampling policy.
package intake

import "time"

// StepStartEvent is the first event for a given step position.
type StepStartEvent struct {
	Position   int
	StepName   string
	Iterations int  // meaningful only when HasIterations
	HasIterations bool
	At         time.Time
}

// StepProgressEvent reports progress within an active iterated step.
type StepProgressEvent struct {
	Position  int
	Iteration int
	At        time.Time
}

// StepFinishEvent closes out the active step at Position.
type StepFinishEvent struct {
	Position int
	At       time.Time
}
