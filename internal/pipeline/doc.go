// Package pipeline is the execution engine. It models a pipeline as an
// ordered graph of stage groups and drives a single run of that graph to a
// terminal, immutable report.
//
// The moving parts, top down:
//
//   - Graph, Group, Stage, Step: the declarative model. Building a graph
//     performs no I/O; a validated graph can be run any number of times.
//   - Controller: walks the groups in order, applies fail-fast or
//     report-only aggregation, enforces the run budget and dispatches the
//     post phase exactly once per run.
//   - Runner: executes one step through an Executor, enforcing the step
//     timeout and classifying every failure mode into the result.
//   - ExecContext and Overlay: the layered environment. The global layer is
//     frozen at run start; each stage mutates only its own overlay, which is
//     discarded when the stage ends.
//
// Execution of commands is delegated to an Executor, so the engine itself
// never forks processes; the actions package provides the real executors and
// tests substitute scripted ones.
package pipeline
