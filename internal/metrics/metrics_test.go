package metrics

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dagucloud/dagu/internal/core"
)

func TestNewCollectorRegistersMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg, nil)

	c.JobsSent.WithLabelValues("g").Inc()

	mfs, err := reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, mf := range mfs {
		if mf.GetName() == "dagmanager_jobs_sent_total" {
			found = true
			assert.Equal(t, float64(1), mf.Metric[0].GetCounter().GetValue())
		}
	}
	assert.True(t, found)
}

func TestEmitFlowEventWithoutTracerDoesNotPanic(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg, nil)

	assert.NotPanics(t, func() {
		c.EmitFlowEvent(context.Background(), core.NewDagId("g", "f", 1), core.FlowSucceeded, "done")
	})
}

func TestObserveFlowStatesSnapshotsGaugeValues(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg, nil)

	c.ObserveFlowStates(map[string]int{
		string(core.FlowRunning):   2,
		string(core.FlowSucceeded): 1,
	})

	mfs, err := reg.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, mf := range mfs {
		if mf.GetName() != "dagmanager_flows_in_state" {
			continue
		}
		for _, m := range mf.Metric {
			values[m.GetLabel()[0].GetValue()] = m.GetGauge().GetValue()
		}
	}
	assert.Equal(t, float64(2), values[string(core.FlowRunning)])
	assert.Equal(t, float64(1), values[string(core.FlowSucceeded)])
}

func TestObserveFlowStatesClearsStaleLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg, nil)

	c.ObserveFlowStates(map[string]int{string(core.FlowFailed): 3})
	c.ObserveFlowStates(map[string]int{string(core.FlowRunning): 1})

	mfs, err := reg.Gather()
	require.NoError(t, err)

	for _, mf := range mfs {
		if mf.GetName() != "dagmanager_flows_in_state" {
			continue
		}
		assert.Len(t, mf.Metric, 1, "stale FLOW_FAILED label should have been reset away")
	}
}
