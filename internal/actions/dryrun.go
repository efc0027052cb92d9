package actions

import (
	"context"
	"fmt"
	"sort"

	"git.home.luguber.info/inful/piperunner/internal/pipeline"
)

// DryRun is an Executor that prints each invocation instead of executing it.
// `piperunner run --dry-run` uses it to rehearse a pipeline: gating, env
// layering and reporting all behave normally while every step "succeeds".
type DryRun struct{}

func NewDryRun() *DryRun { return &DryRun{} }

func (DryRun) Exec(_ context.Context, inv pipeline.Invocation) (int, error) {
	fmt.Fprintf(inv.Output, "dry-run %s", inv.Action)
	if inv.Command != "" {
		fmt.Fprintf(inv.Output, ": %s", inv.Command)
	}
	if len(inv.With) > 0 {
		keys := make([]string, 0, len(inv.With))
		for k := range inv.With {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(inv.Output, " %s=%s", k, inv.With[k])
		}
	}
	fmt.Fprintln(inv.Output)
	return 0, nil
}
