package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/piperunner/internal/pipeline"
)

func treport() *pipeline.Report {
	return &pipeline.Report{
		RunID:     "run-42",
		Number:    42,
		Pipeline:  "cloud-kitchen",
		Branch:    "main",
		Status:    pipeline.RunFailed,
		StartedAt: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
		Duration:  95 * time.Second,
		Stages: []pipeline.StageResult{
			{
				Stage:    "build",
				Status:   pipeline.StageSucceeded,
				Duration: 40 * time.Second,
				Steps: []pipeline.StepResult{
					{Step: "image", Action: "sh", Output: "built ok\n"},
				},
			},
			{
				Stage:    "test",
				Status:   pipeline.StageFailed,
				Reason:   "step pytest failed",
				Duration: 55 * time.Second,
				Steps: []pipeline.StepResult{
					{
						Step:      "pytest",
						Action:    "sh",
						ExitCode:  2,
						Failure:   pipeline.FailureExit,
						Output:    "FAILED tests/test_routes.py::test_health\n",
						Truncated: true,
					},
				},
			},
			{Stage: "deploy", Status: pipeline.StageSkipped, Reason: `when: branch == "main"`},
			{Stage: "health", Status: pipeline.StageNotRun, Reason: "earlier stage failed"},
		},
		Post: []pipeline.StepResult{
			{Step: "alert", Action: "sh", Failure: pipeline.FailureLaunch, Message: "sh: not found"},
		},
	}
}

func TestSummary(t *testing.T) {
	s := Summary(treport())
	require.Contains(t, s, "pipeline=cloud-kitchen")
	require.Contains(t, s, "run=run-42")
	require.Contains(t, s, "status=FAILED")
	require.Contains(t, s, "duration=1m35s")
	require.Contains(t, s, "succeeded=1")
	require.Contains(t, s, "failed=1")
	require.Contains(t, s, "not_run=1")
}

func TestText(t *testing.T) {
	out := Text(treport())
	require.Contains(t, out, "Pipeline cloud-kitchen  run run-42 (#42)")
	require.Contains(t, out, "Status   FAILED")
	require.Contains(t, out, "STAGE")
	require.Contains(t, out, "test")
	require.Contains(t, out, "step pytest failed")

	// Skipped stages show no duration.
	require.NotContains(t, out, `SKIPPED  0s`)

	// Failed step output is attached, with the truncation marker.
	require.Contains(t, out, "--- stage test: pytest (non_zero_exit, exit code 2)")
	require.Contains(t, out, "FAILED tests/test_routes.py::test_health")
	require.Contains(t, out, "[output truncated]")

	// Pipeline post hook failures are listed too.
	require.Contains(t, out, "--- pipeline post: alert (launch_failure: sh: not found)")
}

func TestMarkdown(t *testing.T) {
	out := Markdown(treport())
	require.Contains(t, out, "# cloud-kitchen run #42")
	require.Contains(t, out, "| Status | **FAILED** |")
	require.Contains(t, out, "| test | FAILED | 55s | step pytest failed |")
	require.Contains(t, out, "| deploy | SKIPPED |  |")
	require.Contains(t, out, "## Failures")
	require.Contains(t, out, "### stage test: pytest")
	require.Contains(t, out, "```\nFAILED tests/test_routes.py::test_health\n```")
	require.Contains(t, out, "_output truncated_")
}

func TestHTML(t *testing.T) {
	page, err := HTML(treport())
	require.NoError(t, err)
	s := string(page)
	require.Contains(t, s, "<!DOCTYPE html>")
	require.Contains(t, s, "<title>cloud-kitchen run #42</title>")
	require.Contains(t, s, "<table>", "GFM tables must render as HTML tables")
	require.Contains(t, s, "<pre><code>FAILED tests/test_routes.py::test_health")
	require.Contains(t, s, "</html>")
}

func TestWriteArtifacts(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "artifacts")
	require.NoError(t, WriteArtifacts(dir, treport()))

	data, err := os.ReadFile(filepath.Join(dir, "report.json"))
	require.NoError(t, err)
	var back pipeline.Report
	require.NoError(t, json.Unmarshal(data, &back))
	require.Equal(t, "run-42", back.RunID)
	require.Len(t, back.Stages, 4)

	md, err := os.ReadFile(filepath.Join(dir, "report.md"))
	require.NoError(t, err)
	require.Contains(t, string(md), "## Stages")

	page, err := os.ReadFile(filepath.Join(dir, "report.html"))
	require.NoError(t, err)
	require.Contains(t, string(page), "<table>")

	// No temp files may survive the atomic writes.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		require.NotContains(t, e.Name(), ".tmp")
	}
}
