// Package metrics exports scheduler, executor and workflow counters in the
// Prometheus text format. It is fed by the event bus and by the workflow
// runner's Observer hook, so the instrumented packages never import it.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"wfsched/internal/eventbus"
	"wfsched/internal/workflow"
)

const namespace = "wfsched"

type Collector struct {
	reg *prometheus.Registry

	jobEvents    *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec
	taskResults  *prometheus.CounterVec
	taskAttempts prometheus.Histogram
	taskDuration prometheus.Histogram
}

func New() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		reg: reg,
		jobEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_events_total",
			Help:      "Job lifecycle events by type (submitted, executed, error, missed, max_instances, dropped, ...).",
		}, []string{"type"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Run time of finished job occurrences.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		}, []string{"pool", "outcome"}),
		taskResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_results_total",
			Help:      "Workflow task outcomes.",
		}, []string{"result"}),
		taskAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_attempts",
			Help:      "Attempts used per workflow task execution.",
			Buckets:   []float64{1, 2, 3, 5, 10},
		}),
		taskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Wall time per workflow task including retries and readiness waits.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 4, 9),
		}),
	}
	reg.MustRegister(
		c.jobEvents, c.jobDuration, c.taskResults, c.taskAttempts, c.taskDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry { return c.reg }

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// GaugeFunc exposes a value sampled at scrape time (queue length, job count).
func (c *Collector) GaugeFunc(name, help string, fn func() float64) {
	c.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// Run consumes bus events until ctx is done.
func (c *Collector) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsubscribe := c.Subscribe(bus)
	defer unsubscribe()
	return c.Consume(ctx, ch)
}

func (c *Collector) Subscribe(bus eventbus.Bus) (<-chan eventbus.Event, func()) {
	return bus.Subscribe(1024, "job.", "scheduler.")
}

func (c *Collector) Consume(ctx context.Context, ch <-chan eventbus.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			c.Record(ev)
		}
	}
}

func (c *Collector) Record(ev eventbus.Event) {
	c.jobEvents.WithLabelValues(ev.Type).Inc()
	je, ok := ev.Data.(eventbus.JobEvent)
	if !ok {
		return
	}
	switch ev.Type {
	case eventbus.JobExecuted:
		c.jobDuration.WithLabelValues(je.Pool, "executed").Observe(je.Duration.Seconds())
	case eventbus.JobError:
		c.jobDuration.WithLabelValues(je.Pool, "error").Observe(je.Duration.Seconds())
	}
}

// ObserveTask implements workflow.Observer.
func (c *Collector) ObserveTask(_ string, res workflow.TaskResult, dur time.Duration) {
	result := "failed"
	if res.Passed {
		result = "passed"
	}
	c.taskResults.WithLabelValues(result).Inc()
	c.taskAttempts.Observe(float64(res.Attempts))
	c.taskDuration.Observe(dur.Seconds())
}

var _ workflow.Observer = (*Collector)(nil)
