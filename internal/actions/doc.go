// Package actions provides the built-in step executors and the registry
// that dispatches pipeline invocations to them.
//
// Built-in actions: sh (shell command in the workspace), git-checkout
// (go-git clone), docker-run (run the step inside a container), http-check
// (poll a URL until healthy). DryRun substitutes for the whole registry when
// rehearsing a pipeline.
//
// Actions report command failure through the exit code and reserve errors
// for launch problems, matching what the pipeline runner expects.
package actions
