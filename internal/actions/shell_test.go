package actions

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/piperunner/internal/pipeline"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("sh action needs a POSIX shell")
	}
}

func TestShell_CapturesCombinedOutput(t *testing.T) {
	requireShell(t)
	var out bytes.Buffer
	code, err := NewShell().Exec(context.Background(), pipeline.Invocation{
		Command: "echo to-stdout; echo to-stderr 1>&2",
		Env:     os.Environ(),
		Output:  &out,
	})
	require.NoError(t, err)
	require.Equal(t, 0, code)
	require.Contains(t, out.String(), "to-stdout")
	require.Contains(t, out.String(), "to-stderr")
}

func TestShell_ReturnsExitCodeWithoutError(t *testing.T) {
	requireShell(t)
	var out bytes.Buffer
	code, err := NewShell().Exec(context.Background(), pipeline.Invocation{
		Command: "exit 4",
		Env:     os.Environ(),
		Output:  &out,
	})
	require.NoError(t, err)
	require.Equal(t, 4, code)
}

func TestShell_RunsInWorkspaceWithInjectedEnv(t *testing.T) {
	requireShell(t)
	dir := t.TempDir()
	var out bytes.Buffer
	code, err := NewShell().Exec(context.Background(), pipeline.Invocation{
		Command: "pwd; printf '%s\\n' \"$PR_TEST_VALUE\"",
		Env:     append(os.Environ(), "PR_TEST_VALUE=injected"),
		Dir:     dir,
		Output:  &out,
	})
	require.NoError(t, err)
	require.Equal(t, 0, code)
	resolved, _ := filepath.EvalSymlinks(dir)
	require.Contains(t, out.String(), filepath.Base(resolved))
	require.Contains(t, out.String(), "injected")
}

func TestShell_CancellationStopsTheProcess(t *testing.T) {
	requireShell(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	var out bytes.Buffer
	code, err := NewShellWithGrace(time.Second).Exec(ctx, pipeline.Invocation{
		Command: "sleep 10",
		Env:     os.Environ(),
		Output:  &out,
	})
	require.Less(t, time.Since(start), 5*time.Second)
	if err == nil {
		require.NotEqual(t, 0, code)
	}
}
