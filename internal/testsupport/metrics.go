package testsupport

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MetricValue reads the current value of a relay metric series from the
// default registry. Counters and gauges report their value, histograms
// their sample count. A series that has not been touched yet reads as 0,
// which lets delta assertions work without pre-seeding every label
// combination.
func MetricValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()

	mfs, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err, "gather metrics")

	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if !hasLabels(m, labels) {
				continue
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				return float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return 0
}

func hasLabels(m *dto.Metric, want map[string]string) bool {
	got := make(map[string]string, len(m.GetLabel()))
	for _, pair := range m.GetLabel() {
		got[pair.GetName()] = pair.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

// AssertCounterDelta runs fn and asserts the series moved by exactly
// delta. Works for request and evaluation counters alike; callers must
// not run in parallel with other tests that touch the same series.
func AssertCounterDelta(t *testing.T, name string, labels map[string]string, delta float64, fn func()) {
	t.Helper()

	before := MetricValue(t, name, labels)
	fn()
	after := MetricValue(t, name, labels)

	assert.Equal(t, delta, after-before, "counter %s%v delta mismatch", name, labels)
}

// AssertHistogramSampled asserts the latency histogram recorded at
// least one observation for the labeled series.
func AssertHistogramSampled(t *testing.T, name string, labels map[string]string) {
	t.Helper()

	count := MetricValue(t, name, labels)
	assert.Greater(t, count, 0.0, "histogram %s%v recorded no samples", name, labels)
}
