package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestRecordReconcile(t *testing.T) {
	before := testutil.ToFloat64(reconcileCounter.WithLabelValues("edited"))

	RecordReconcile("edited", 250*time.Millisecond)

	require.InDelta(t, before+1, testutil.ToFloat64(reconcileCounter.WithLabelValues("edited")), 0.0001)

	metric := &dto.Metric{}
	require.NoError(t, reconcileDuration.Write(metric))
	require.NotZero(t, metric.GetHistogram().GetSampleCount())
}

func TestRecordTransitionSetsWatermark(t *testing.T) {
	ts := time.Date(2025, time.September, 10, 12, 0, 0, 0, time.UTC)
	RecordTransition("online", ts)
	require.Equal(t, float64(ts.Unix()), testutil.ToFloat64(lastTransitionGauge))

	RecordTransition("unchanged", time.Time{})
	require.Equal(t, float64(ts.Unix()), testutil.ToFloat64(lastTransitionGauge), "zero time leaves the watermark alone")
}

func TestCollectorsAreRegistered(t *testing.T) {
	RecordWindowReset("daily")
	RecordVersionConflict()
	RecordArtifactCreated()

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, family := range families {
		byName[family.GetName()] = family
	}
	for _, name := range []string{
		"presence_service_recorder_window_resets_total",
		"presence_service_recorder_version_conflicts_total",
		"presence_service_dashboard_artifacts_created_total",
	} {
		require.Contains(t, byName, name)
	}
	require.Equal(t, dto.MetricType_COUNTER, byName["presence_service_recorder_window_resets_total"].GetType())
}
