// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package predictor

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/pbartrace/internal/schema"
)

// PredictWhole answers §9's resolved open question ("the whole-trace
// estimate is the sum of each step's own prediction, not a single
// aggregate fit"): it predicts every real step position 1..K with that
// step's own configured technique and sums the results. iterationsByStep
// supplies the iteration count to use for an iterated position; an
// iterated position absent from the map falls back to the median
// iteration count of its retained samples. Non-iterated positions are
// predicted without an iteration multiplier.
//
// Each step cell is independent of the others, so the per-step
// materializations and predictions run concurrently.
func (e *Engine) PredictWhole(ctx context.Context, bar schema.BarSchema, ownerSub, barName string, version int, iterationsByStep map[int]int) (float64, bool, error) {
	k := bar.LastPosition()
	if k == 0 {
		return 0, false, nil
	}

	results := make([]float64, k+1)
	present := make([]bool, k+1)

	g, gctx := errgroup.WithContext(ctx)
	for position := 1; position <= k; position++ {
		position := position
		g.Go(func() error {
			spec, ok := bar.StepAt(position)
			if !ok {
				return nil
			}
			c, err := e.stepCell(gctx, ownerSub, barName, version, spec)
			if err != nil {
				return err
			}
			iterations, supplied := iterationsByStep[position]
			if !spec.Iterated {
				iterations = 0
			} else if !supplied {
				iterations, _ = c.MedianIterations()
			}
			v, ok := c.Predict(iterations)
			results[position] = v
			present[position] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, false, err
	}

	var sum float64
	complete := true
	for position := 1; position <= k; position++ {
		if !present[position] {
			complete = false
			continue
		}
		sum += results[position]
	}
	return sum, complete, nil
}
