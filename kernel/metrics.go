package kernel

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/kernelkit/metric"
)

// Metrics holds Prometheus metrics for the execution dispatcher.
type Metrics struct {
	executions        prometheus.Counter
	executionsFailed  prometheus.Counter
	interrupts        prometheus.Counter
	executionDuration prometheus.Histogram
}

// newMetrics creates and registers dispatcher metrics. Returns nil when
// no registry is provided.
func newMetrics(registry *metric.Registry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		executions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kernelkit",
			Subsystem: "kernel",
			Name:      "executions_total",
			Help:      "Execute requests processed, success or failure",
		}),
		executionsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kernelkit",
			Subsystem: "kernel",
			Name:      "executions_failed_total",
			Help:      "Execute requests that ended in an error reply",
		}),
		interrupts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kernelkit",
			Subsystem: "kernel",
			Name:      "interrupts_total",
			Help:      "In-flight executions aborted by interrupt_request",
		}),
		executionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kernelkit",
			Subsystem: "kernel",
			Name:      "execution_duration_seconds",
			Help:      "Wall time from busy broadcast to reply sent",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
		}),
	}

	_ = registry.RegisterCounter("kernel", "executions", m.executions)
	_ = registry.RegisterCounter("kernel", "executions_failed", m.executionsFailed)
	_ = registry.RegisterCounter("kernel", "interrupts", m.interrupts)
	_ = registry.RegisterHistogram("kernel", "execution_duration", m.executionDuration)
	return m
}
