package metric

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndDuplicateRejection(t *testing.T) {
	r := NewRegistry()

	c := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kernelkit",
		Subsystem: "kernel",
		Name:      "executions_total",
		Help:      "Total execute requests processed",
	})
	require.NoError(t, r.RegisterCounter("kernel", "executions", c))

	other := prometheus.NewCounter(prometheus.CounterOpts{Name: "other_total", Help: "x"})
	err := r.RegisterCounter("kernel", "executions", other)
	require.Error(t, err, "same component/name pair must be rejected")
}

func TestUnregister(t *testing.T) {
	r := NewRegistry()

	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: "kernel_busy", Help: "x"})
	require.NoError(t, r.RegisterGauge("kernel", "busy", g))

	assert.True(t, r.Unregister("kernel", "busy"))
	assert.False(t, r.Unregister("kernel", "busy"))

	// Freed name can be reused.
	require.NoError(t, r.RegisterGauge("kernel", "busy", g))
}

func TestHandlerServesRegisteredMetrics(t *testing.T) {
	r := NewRegistry()

	c := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kernelkit",
		Name:      "messages_published_total",
		Help:      "Total iopub messages published",
	})
	require.NoError(t, r.RegisterCounter("transport", "published", c))
	c.Add(3)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "kernelkit_messages_published_total 3")
}
