package actions

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"time"

	"git.home.luguber.info/inful/piperunner/internal/pipeline"
)

// DefaultStopGrace is how long a shell step gets between the interrupt on
// cancellation and the hard kill.
const DefaultStopGrace = 5 * time.Second

// Shell runs a step's command line through `sh -c` in the run workspace.
type Shell struct {
	grace time.Duration
}

// NewShell creates the sh action with the default stop grace.
func NewShell() *Shell { return &Shell{grace: DefaultStopGrace} }

// NewShellWithGrace overrides the interrupt-to-kill grace period.
func NewShellWithGrace(grace time.Duration) *Shell { return &Shell{grace: grace} }

func (s *Shell) Name() string { return "sh" }

func (s *Shell) Exec(ctx context.Context, inv pipeline.Invocation) (int, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", inv.Command)
	cmd.Dir = inv.Dir
	cmd.Env = inv.Env
	cmd.Stdout = inv.Output
	cmd.Stderr = inv.Output

	// On cancellation: interrupt first, hard kill after the grace period.
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = s.grace

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}
