// Package workspace manages the working directories runs execute in,
// supporting both ephemeral (run-id named) and persistent (fixed-path) modes.
//
// Ephemeral mode creates one directory per run (e.g. piperunner-4f1c...)
// under the base directory and removes it completely on cleanup.
//
// Persistent mode uses a fixed directory (e.g. /data/pipelines/working) that
// survives across runs, enabling incremental checkouts and cached build
// state. Cleanup leaves it untouched.
package workspace
