package intake

import "time"

// NotIterated is the sentinel for TraceStep.Iterations when the underlying
// step spec is non-iterated (the ⊥ of §3's TraceStep.iterations).
const NotIterated = -1

// TraceStep is the in-memory projection of §3's TraceStep, assembled from
// the hot store's step hashes when a trace completes.
type TraceStep struct {
	Position   int
	StepName   string
	Iterations int // NotIterated if the step spec is non-iterated
	StartedAt  time.Time
	FinishedAt time.Time
}

// CompletedTrace is the in-memory projection of §3's Trace, handed to the
// sampling policy and predictor engine once every position 1..K has a
// finished TraceStep.
type CompletedTrace struct {
	OwnerSub  string
	BarName   string
	BarID     string
	Version   int
	TraceUID  string
	CreatedAt time.Time
	Steps     []TraceStep // position order, 1..K
}
