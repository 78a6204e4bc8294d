package clockid

import "github.com/google/uuid"

// Prefixes for the opaque external identifiers named in §3: ProgressBar,
// StepSpec, and Trace each get their own externally visible ID namespace so
// a caller can tell at a glance what kind of entity an ID names.
const (
	prefixBar   = "pb_"
	prefixStep  = "st_"
	prefixTrace = "tr_"
)

// NewBarID returns a new opaque ProgressBar identifier.
func NewBarID() string {
	return prefixBar + uuid.NewString()
}

// NewStepID returns a new opaque StepSpec identifier.
func NewStepID() string {
	return prefixStep + uuid.NewString()
}

// NewTraceID returns a new opaque Trace identifier (the trace_uid used
// throughout the hot-state keyspace in §6).
func NewTraceID() string {
	return prefixTrace + uuid.NewString()
}
