package digraph

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dagucloud/dagu/internal/core"
)

func plan(status core.ExecutionStatus) *core.JobExecutionPlan {
	return &core.JobExecutionPlan{Status: status}
}

func TestReady(t *testing.T) {
	d := core.NewDag(core.NewDagId("g", "f", 1), []*core.Node{
		{ID: "a", Plan: plan(core.StatusComplete)},
		{ID: "b", Plan: plan(core.StatusPending), Parents: []core.NodeID{"a"}},
		{ID: "c", Plan: plan(core.StatusPending), Parents: []core.NodeID{"b"}},
	}, core.FinishAllPossible)

	ready := Ready(d)
	assert.Len(t, ready, 1)
	assert.Equal(t, core.NodeID("b"), ready[0].ID)
}

func TestReadyAllRootsWhenNoParents(t *testing.T) {
	d := core.NewDag(core.NewDagId("g", "f", 2), []*core.Node{
		{ID: "a", Plan: plan(core.StatusPending)},
		{ID: "b", Plan: plan(core.StatusPending)},
	}, core.FinishAllPossible)

	ready := Ready(d)
	assert.Len(t, ready, 2)
}

func TestActiveExcludesTerminalAndPending(t *testing.T) {
	d := core.NewDag(core.NewDagId("g", "f", 3), []*core.Node{
		{ID: "a", Plan: plan(core.StatusRunning)},
		{ID: "b", Plan: plan(core.StatusComplete)},
		{ID: "c", Plan: plan(core.StatusPending)},
		{ID: "d", Plan: plan(core.StatusOrchestrated)},
	}, core.FinishAllPossible)

	active := Active(d)
	assert.Len(t, active, 2)
	assert.True(t, HasActive(d))
}

func TestHasActiveFalseWhenAllTerminal(t *testing.T) {
	d := core.NewDag(core.NewDagId("g", "f", 4), []*core.Node{
		{ID: "a", Plan: plan(core.StatusComplete)},
		{ID: "b", Plan: plan(core.StatusFailed)},
	}, core.FinishAllPossible)

	assert.False(t, HasActive(d))
}
