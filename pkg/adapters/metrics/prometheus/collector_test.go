package prometheus

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCollectorRegistersAndCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRunSubmitted("accepted")
	c.RecordRunSubmitted("accepted")
	c.RecordRunSubmitted("rejected")
	c.RecordRunCompleted("success", 3*time.Second)
	c.RecordStageExecuted("scan", "failed", time.Second)
	c.RecordToolInvocation("trivy", "completed", 2*time.Second)
	c.ObserveQueueWait(50 * time.Millisecond)
	c.SetActiveRuns(2)
	c.SetInflightStages(4)

	require.Equal(t, float64(2),
		testutil.ToFloat64(c.runsSubmitted.WithLabelValues("accepted")))
	require.Equal(t, float64(1),
		testutil.ToFloat64(c.runsSubmitted.WithLabelValues("rejected")))
	require.Equal(t, float64(1),
		testutil.ToFloat64(c.runsCompleted.WithLabelValues("success")))
	require.Equal(t, float64(1),
		testutil.ToFloat64(c.stagesExecuted.WithLabelValues("scan", "failed")))
	require.Equal(t, float64(1),
		testutil.ToFloat64(c.toolInvoked.WithLabelValues("trivy", "completed")))
	require.Equal(t, float64(2), testutil.ToFloat64(c.activeRuns))
	require.Equal(t, float64(4), testutil.ToFloat64(c.inflightStages))

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}

func TestCollectorWithoutRegistry(t *testing.T) {
	// A nil registerer must not panic, so tests can build throwaway
	// collectors freely.
	c := NewCollector(nil)
	c.RecordRunSubmitted("accepted")
	c.SetActiveRuns(1)
}
