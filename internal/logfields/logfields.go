package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyRunID      = "run_id"
	KeyRunNumber  = "run_number"
	KeyPipeline   = "pipeline"
	KeyStage      = "stage"
	KeyStep       = "step"
	KeyAction     = "action"
	KeyBranch     = "branch"
	KeyStatus     = "status"
	KeyAttempt    = "attempt"
	KeyTrigger    = "trigger"
	KeyDurationMS = "duration_ms"
	KeyExitCode   = "exit_code"
	KeyPath       = "path"
	KeyWorker     = "worker"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func RunID(id string) slog.Attr       { return slog.String(KeyRunID, id) }
func RunNumber(n int) slog.Attr       { return slog.Int(KeyRunNumber, n) }
func Pipeline(name string) slog.Attr  { return slog.String(KeyPipeline, name) }
func Stage(name string) slog.Attr     { return slog.String(KeyStage, name) }
func Step(name string) slog.Attr      { return slog.String(KeyStep, name) }
func Action(name string) slog.Attr    { return slog.String(KeyAction, name) }
func Branch(name string) slog.Attr    { return slog.String(KeyBranch, name) }
func Status(s string) slog.Attr       { return slog.String(KeyStatus, s) }
func Attempt(n int) slog.Attr         { return slog.Int(KeyAttempt, n) }
func Trigger(t string) slog.Attr      { return slog.String(KeyTrigger, t) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func ExitCode(code int) slog.Attr     { return slog.Int(KeyExitCode, code) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func Worker(id string) slog.Attr      { return slog.String(KeyWorker, id) }

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
