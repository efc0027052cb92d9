package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once          sync.Once
	runDuration   prom.Histogram
	stageDuration *prom.HistogramVec
	stepDuration  *prom.HistogramVec
	stageResults  *prom.CounterVec
	runOutcomes   *prom.CounterVec
	activeRuns    prom.Gauge
	queueLength   prom.Gauge
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.runDuration = prom.NewHistogram(prom.HistogramOpts{
			Namespace: "piperunner",
			Name:      "run_duration_seconds",
			Help:      "Total pipeline run duration",
			Buckets:   prom.DefBuckets,
		})
		pr.stageDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "piperunner",
			Name:      "stage_duration_seconds",
			Help:      "Duration of individual pipeline stages",
			Buckets:   prom.DefBuckets,
		}, []string{"stage"})
		pr.stepDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "piperunner",
			Name:      "step_duration_seconds",
			Help:      "Duration of individual steps",
			Buckets:   prom.DefBuckets,
		}, []string{"stage", "step"})
		pr.stageResults = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "piperunner",
			Name:      "stage_results_total",
			Help:      "Stage result counts by outcome",
		}, []string{"stage", "result"})
		pr.runOutcomes = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "piperunner",
			Name:      "run_outcomes_total",
			Help:      "Run outcomes by final status",
		}, []string{"outcome"})
		pr.activeRuns = prom.NewGauge(prom.GaugeOpts{
			Namespace: "piperunner",
			Name:      "active_runs",
			Help:      "Number of runs currently executing",
		})
		pr.queueLength = prom.NewGauge(prom.GaugeOpts{
			Namespace: "piperunner",
			Name:      "queue_length",
			Help:      "Number of runs waiting in the queue",
		})
		reg.MustRegister(pr.runDuration, pr.stageDuration, pr.stepDuration, pr.stageResults, pr.runOutcomes, pr.activeRuns, pr.queueLength)
	})
	return pr
}

func (p *PrometheusRecorder) ObserveRunDuration(d time.Duration) {
	if p == nil || p.runDuration == nil {
		return
	}
	p.runDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveStageDuration(stage string, d time.Duration) {
	if p == nil || p.stageDuration == nil {
		return
	}
	p.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveStepDuration(stage, step string, d time.Duration) {
	if p == nil || p.stepDuration == nil {
		return
	}
	p.stepDuration.WithLabelValues(stage, step).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncStageResult(stage string, result ResultLabel) {
	if p == nil || p.stageResults == nil {
		return
	}
	p.stageResults.WithLabelValues(stage, string(result)).Inc()
}

func (p *PrometheusRecorder) IncRunOutcome(outcome string) {
	if p == nil || p.runOutcomes == nil {
		return
	}
	p.runOutcomes.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) SetActiveRuns(n int) {
	if p == nil || p.activeRuns == nil {
		return
	}
	p.activeRuns.Set(float64(n))
}

func (p *PrometheusRecorder) SetQueueLength(n int) {
	if p == nil || p.queueLength == nil {
		return
	}
	p.queueLength.Set(float64(n))
}
