// Package definition loads YAML pipeline definitions and builds executable
// graphs from them.
//
// A definition travels through three phases: Load/Parse reads the YAML and
// checks it against the embedded JSON schema, Build converts the document
// into a pipeline.Graph (applying the run sugar, default timeouts and when
// clause compilation), and the graph's own validation enforces the engine's
// structural invariants. Reference validation against a concrete environment
// happens later, when the graph is run.
package definition
