package syncer

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// RunBatch runs independent engines, at most parallel at a time, and returns
// their outcomes in input order. A failing run does not stop the others.
func RunBatch(ctx context.Context, engines []*Engine, parallel int) []Outcome {
	if parallel <= 0 {
		parallel = 1
	}
	out := make([]Outcome, len(engines))
	var g errgroup.Group
	g.SetLimit(parallel)
	for i, e := range engines {
		g.Go(func() error {
			out[i] = e.Run(ctx)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Failures returns the failed outcomes.
func Failures(outcomes []Outcome) []Outcome {
	var failed []Outcome
	for _, o := range outcomes {
		if !o.OK() {
			failed = append(failed, o)
		}
	}
	return failed
}
