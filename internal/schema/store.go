package schema

import "context"

// Store is the slice of the durable relational store (§6) the registry
// reads from: progress_bars and progress_bar_steps. Creating or editing
// bars/steps is the external CRUD surface named out of scope in §1; this
// core only resolves the current schema.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Store interface {
	// LookupBar returns the current bar row for (ownerSub, barName), or
	// ok=false if no such bar exists.
	LookupBar(ctx context.Context, ownerSub, barName string) (ProgressBar, bool, error)

	// StepSpecs returns every StepSpec for barID, including position 0.
	StepSpecs(ctx context.Context, barID string) ([]StepSpec, error)
}
