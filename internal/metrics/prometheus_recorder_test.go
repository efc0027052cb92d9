package metrics

import (
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)
	pr.ObserveRunDuration(500 * time.Millisecond)
	pr.ObserveStageDuration("build", 150*time.Millisecond)
	pr.ObserveStepDuration("build", "compile", 100*time.Millisecond)
	pr.IncStageResult("build", ResultSucceeded)
	pr.IncRunOutcome("completed")
	pr.SetActiveRuns(2)
	pr.SetQueueLength(5)
	// Basic scrape to ensure metrics encode without panic
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(mfs) == 0 {
		t.Fatalf("expected metrics, got none")
	}
}

func TestPrometheusRecorderNilSafe(t *testing.T) {
	var pr *PrometheusRecorder
	pr.ObserveRunDuration(time.Second)
	pr.ObserveStageDuration("build", time.Second)
	pr.ObserveStepDuration("build", "compile", time.Second)
	pr.IncStageResult("build", ResultFailed)
	pr.IncRunOutcome("failed")
	pr.SetActiveRuns(0)
	pr.SetQueueLength(0)
}
