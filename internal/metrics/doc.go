// Package metrics provides the observability hooks for run, stage and step
// execution.
//
// It follows the Null Object pattern: every component takes a Recorder and
// defaults to NoopRecorder, so metrics can be enabled by swapping in a
// PrometheusRecorder without nil checks spreading through the engine.
//
//	ctrl := pipeline.NewController(exec,
//	    pipeline.WithRecorder(metrics.NewPrometheusRecorder(reg)))
//
// All PrometheusRecorder methods are safe on a nil receiver, which keeps
// optional injection cheap in the daemon wiring.
package metrics
