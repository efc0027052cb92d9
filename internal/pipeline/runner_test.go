package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/piperunner/internal/retry"
)

// stubExec returns a scripted exit code and error, optionally writing output
// first and optionally blocking until the context is done.
type stubExec struct {
	exit   int
	err    error
	output string
	block  bool
	calls  int
	last   *Invocation
}

func (s *stubExec) Exec(ctx context.Context, inv Invocation) (int, error) {
	s.calls++
	s.last = &inv
	if s.output != "" {
		io.WriteString(inv.Output, s.output)
	}
	if s.block {
		<-ctx.Done()
		return -1, ctx.Err()
	}
	return s.exit, s.err
}

// seqExec returns scripted exit codes in call order, repeating the last one.
type seqExec struct {
	codes []int
	calls int
}

func (s *seqExec) Exec(_ context.Context, inv Invocation) (int, error) {
	code := s.codes[min(s.calls, len(s.codes)-1)]
	s.calls++
	fmt.Fprintf(inv.Output, "output of attempt %d\n", s.calls)
	return code, nil
}

func fastBackoff() retry.Policy {
	return retry.NewPolicy(retry.BackoffFixed, time.Millisecond, time.Millisecond)
}

func newTestScope(t *testing.T) *Overlay {
	t.Helper()
	ec := NewExecContext(Meta{
		RunID:     "run-1",
		Number:    1,
		Pipeline:  "demo",
		Branch:    "main",
		Workspace: t.TempDir(),
		StartedAt: time.Now(),
	}, map[string]string{"REGISTRY": "registry.local"}, nil)
	return ec.NewOverlay()
}

func TestRunner_ClassifiesOutcomes(t *testing.T) {
	cases := []struct {
		name     string
		exec     *stubExec
		timeout  time.Duration
		wantKind FailureKind
		wantExit int
	}{
		{"success", &stubExec{exit: 0}, time.Second, FailureNone, 0},
		{"non-zero exit", &stubExec{exit: 3}, time.Second, FailureExit, 3},
		{"launch failure", &stubExec{exit: -1, err: errors.New("executable not found")}, time.Second, FailureLaunch, -1},
		{"timeout", &stubExec{block: true}, 25 * time.Millisecond, FailureTimeout, -1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := NewRunner(tc.exec, 0, retry.DefaultPolicy())
			step := Step{Name: "s", Action: "sh", Command: "run", Timeout: tc.timeout}
			res := r.Run(context.Background(), "build", step, newTestScope(t))
			if res.Failure != tc.wantKind {
				t.Fatalf("failure kind = %q, want %q", res.Failure, tc.wantKind)
			}
			if res.ExitCode != tc.wantExit {
				t.Fatalf("exit code = %d, want %d", res.ExitCode, tc.wantExit)
			}
			if res.Duration < 0 {
				t.Fatalf("negative duration %v", res.Duration)
			}
		})
	}
}

func TestRunner_AbortClassifiedSeparatelyFromTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	r := NewRunner(&stubExec{block: true}, 0, retry.DefaultPolicy())
	step := Step{Name: "s", Action: "sh", Command: "run", Timeout: 5 * time.Second}
	res := r.Run(ctx, "build", step, newTestScope(t))
	require.Equal(t, FailureAborted, res.Failure)
	require.Equal(t, -1, res.ExitCode)
}

func TestRunner_ExpandsParamsButNotCommand(t *testing.T) {
	exec := &stubExec{}
	r := NewRunner(exec, 0, retry.DefaultPolicy())
	scope := newTestScope(t)
	scope.Set("TAG", "v1.2.3")
	step := Step{
		Name:    "push",
		Action:  "docker",
		Command: "push ${REGISTRY}/app", // verbatim, shells resolve this themselves
		With:    map[string]string{"image": "${REGISTRY}/app:${TAG}"},
		Env:     map[string]string{"TARGET": "${BRANCH}"},
		Timeout: time.Second,
	}
	res := r.Run(context.Background(), "build", step, scope)
	require.True(t, res.OK())
	require.Equal(t, "push ${REGISTRY}/app", exec.last.Command)
	require.Equal(t, "registry.local/app:v1.2.3", exec.last.With["image"])
	require.Contains(t, exec.last.Env, "TARGET=main")
}

func TestRunner_TimeoutMessageNamesBudget(t *testing.T) {
	r := NewRunner(&stubExec{block: true}, 0, retry.DefaultPolicy())
	step := Step{Name: "s", Action: "sh", Command: "run", Timeout: 30 * time.Millisecond}
	res := r.Run(context.Background(), "build", step, newTestScope(t))
	require.Equal(t, FailureTimeout, res.Failure)
	require.Contains(t, res.Message, "30ms")
}

func TestRunner_RetriesUntilSuccess(t *testing.T) {
	exec := &seqExec{codes: []int{1, 1, 0}}
	r := NewRunner(exec, 0, fastBackoff())
	step := Step{Name: "flaky", Action: "sh", Command: "run", Timeout: time.Second, Retries: 3}
	res := r.Run(context.Background(), "test", step, newTestScope(t))
	require.True(t, res.OK())
	require.Equal(t, 3, exec.calls)
	require.Equal(t, 3, res.Attempts)
	require.Contains(t, res.Output, "output of attempt 1")
	require.Contains(t, res.Output, "output of attempt 3")
	require.Contains(t, res.Output, "[attempt 1/4 failed, retrying in 1ms]")
}

func TestRunner_RetriesExhaustedKeepLastFailure(t *testing.T) {
	exec := &seqExec{codes: []int{7}}
	r := NewRunner(exec, 0, fastBackoff())
	step := Step{Name: "flaky", Action: "sh", Command: "run", Timeout: time.Second, Retries: 2}
	res := r.Run(context.Background(), "test", step, newTestScope(t))
	require.Equal(t, FailureExit, res.Failure)
	require.Equal(t, 7, res.ExitCode)
	require.Equal(t, 3, exec.calls)
	require.Equal(t, 3, res.Attempts)
}

func TestRunner_TimeoutIsNeverRetried(t *testing.T) {
	exec := &stubExec{block: true}
	r := NewRunner(exec, 0, fastBackoff())
	step := Step{Name: "slow", Action: "sh", Command: "run", Timeout: 20 * time.Millisecond, Retries: 5}
	res := r.Run(context.Background(), "test", step, newTestScope(t))
	require.Equal(t, FailureTimeout, res.Failure)
	require.Equal(t, 1, exec.calls)
	require.Zero(t, res.Attempts)
}

func TestRunner_AbortDuringBackoffStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	exec := &seqExec{codes: []int{1}}
	r := NewRunner(exec, 0, retry.NewPolicy(retry.BackoffFixed, 200*time.Millisecond, 200*time.Millisecond))
	time.AfterFunc(20*time.Millisecond, cancel)
	step := Step{Name: "flaky", Action: "sh", Command: "run", Timeout: time.Second, Retries: 5}
	res := r.Run(ctx, "test", step, newTestScope(t))
	require.Equal(t, FailureExit, res.Failure)
	require.Equal(t, 1, exec.calls)
}

func TestCapture_UnderCapKeepsEverything(t *testing.T) {
	c := newCapture(64)
	io.WriteString(c, "hello\nworld\n")
	out, truncated := c.contents(func(s string) string { return s })
	require.False(t, truncated)
	require.Equal(t, "hello\nworld\n", out)
}

func TestCapture_TruncatesAtLineBoundary(t *testing.T) {
	c := newCapture(16)
	io.WriteString(c, "line one\n")
	io.WriteString(c, "line two\n")
	io.WriteString(c, "more")
	out, truncated := c.contents(func(s string) string { return s })
	require.True(t, truncated)
	require.Equal(t, "line one\n[output truncated, 13 bytes dropped]\n", out)
}

func TestCapture_RedactsKeptPrefix(t *testing.T) {
	c := newCapture(1024)
	io.WriteString(c, "token=hunter2token done\n")
	out, _ := c.contents(func(s string) string {
		return strings.ReplaceAll(s, "hunter2token", "******")
	})
	require.Equal(t, "token=****** done\n", out)
}
