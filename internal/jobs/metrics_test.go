package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerCountsFailures(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	require.NoError(t, m.Track("depreciation").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("depreciation").End(boom), boom)

	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("depreciation", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("depreciation", "failure")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("depreciation")))
}

func TestDepreciationAndIntegrityCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.AddDepreciationRun("2024-02", 3, 1)
	m.AddDepreciationRun("2024-02", 0, 0)
	m.SetUnbalancedEntries(2)

	require.Equal(t, 3.0, testutil.ToFloat64(m.posted.WithLabelValues("2024-02")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.skipped.WithLabelValues("2024-02")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.unbalanced))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.AddDepreciationRun("2024-02", 1, 1)
	m.SetUnbalancedEntries(1)
	require.NoError(t, m.Track("noop").End(nil))
}
