package pipeline

import (
	"context"
	"sync"
)

// runGroup executes one group. Sequential groups hold a single stage;
// parallel groups fan out a goroutine per member and wait for all of them.
// Results come back in declaration order regardless of finish order.
func (c *Controller) runGroup(ctx context.Context, ec *ExecContext, grp Group, reportOnly bool) []StageResult {
	if !grp.Parallel() {
		return []StageResult{c.runStage(ctx, ec, grp.Stages[0], "")}
	}

	groupCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]StageResult, len(grp.Stages))
	var wg sync.WaitGroup
	for i, st := range grp.Stages {
		wg.Add(1)
		go func(i int, st *Stage) {
			defer wg.Done()
			res := c.runStage(groupCtx, ec, st, grp.Name)
			results[i] = res
			// Fail-fast cancels the running siblings. In report-only
			// mode every member runs to completion regardless.
			if res.Status == StageFailed && !reportOnly {
				cancel()
			}
		}(i, st)
	}
	wg.Wait()
	return results
}
