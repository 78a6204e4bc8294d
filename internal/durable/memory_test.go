package durable

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_InsertAndScan(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	start := time.Unix(1_700_000_000, 0).UTC()

	rec := TraceRecord{
		OwnerSub: "owner", BarName: "bar", BarID: "pb_1", Version: 1, TraceUID: "tr_1",
		CreatedAt: start,
		Steps: []StepRecord{
			{Position: 1, StepName: "compile", Iterations: StepNotIterated, StartedAt: start, FinishedAt: start.Add(2 * time.Second)},
		},
	}
	require.NoError(t, store.InsertTrace(ctx, rec))

	samples, err := store.RetainedStepSamples(ctx, "owner", "bar", 1, 1)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, 2.0, samples[0].DurationSeconds)
	assert.Equal(t, StepNotIterated, samples[0].Iterations)
}

func TestMemoryStore_DeleteTraceRemovesItFromScans(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	start := time.Unix(1_700_000_000, 0).UTC()

	rec := TraceRecord{
		OwnerSub: "owner", BarName: "bar", Version: 1, TraceUID: "tr_1", CreatedAt: start,
		Steps: []StepRecord{{Position: 1, StartedAt: start, FinishedAt: start.Add(time.Second)}},
	}
	require.NoError(t, store.InsertTrace(ctx, rec))
	require.NoError(t, store.DeleteTrace(ctx, "owner", "bar", 1, "tr_1"))

	samples, err := store.RetainedStepSamples(ctx, "owner", "bar", 1, 1)
	require.NoError(t, err)
	assert.Empty(t, samples)
}

func TestMemoryStore_InsertRejectsEmptySteps(t *testing.T) {
	store := NewMemoryStore()
	err := store.InsertTrace(context.Background(), TraceRecord{OwnerSub: "owner", BarName: "bar", TraceUID: "tr_1"})
	assert.Error(t, err)
}
