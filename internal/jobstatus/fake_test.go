package jobstatus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeLatestExecutionIDs(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	f.Push("g", "flow", 100, Event{EventName: "FLOW_PENDING"})
	f.Push("g", "flow", 200, Event{EventName: "FLOW_PENDING"})
	f.Push("g", "flow", 300, Event{EventName: "FLOW_PENDING"})

	ids, err := f.LatestExecutionIDsForFlow(ctx, "g", "flow", 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{300, 200}, ids)
}

func TestFakeStatusesForFlowExecution(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	f.Push("g", "flow", 100, Event{Job: "job0", EventName: "ORCHESTRATED"})
	f.Push("g", "flow", 100, Event{Job: NAKey, EventName: "FLOW_RUNNING"})

	events, err := f.StatusesForFlowExecution(ctx, "g", "flow", 100)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestFakeUnknownFlowReturnsEmpty(t *testing.T) {
	f := NewFake()
	ids, err := f.LatestExecutionIDsForFlow(context.Background(), "g", "missing", 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}
