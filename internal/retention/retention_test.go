package retention

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dagucloud/dagu/internal/core"
	"github.com/dagucloud/dagu/internal/dagstore"
)

type fakeSet struct {
	ids []core.DagId
}

func (s *fakeSet) Snapshot() []core.DagId { return s.ids }
func (s *fakeSet) Remove(id core.DagId) {
	out := s.ids[:0]
	for _, existing := range s.ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	s.ids = out
}

func testDag(execID int64) *core.Dag {
	return core.NewDag(core.NewDagId("g", "f", execID), []*core.Node{
		{ID: "a", Plan: &core.JobExecutionPlan{Status: core.StatusFailed}},
	}, core.FinishAllPossible)
}

func TestSweepPurgesExpiredDags(t *testing.T) {
	store, err := dagstore.NewFSStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	oldID := core.NewDagId("g", "f", time.Now().Add(-2*time.Hour).UnixMilli())
	require.NoError(t, store.WriteCheckpoint(ctx, testDag(oldID.FlowExecutionId)))

	freshID := core.NewDagId("g", "f", time.Now().UnixMilli())
	require.NoError(t, store.WriteCheckpoint(ctx, testDag(freshID.FlowExecutionId)))

	set := &fakeSet{ids: []core.DagId{oldID, freshID}}
	r := New(store, set, time.Hour)

	require.NoError(t, r.Sweep(ctx))

	assert.Equal(t, []core.DagId{freshID}, set.Snapshot())

	got, err := store.GetDag(ctx, oldID)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = store.GetDag(ctx, freshID)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestSweepDisabledWhenRetainNonPositive(t *testing.T) {
	store, err := dagstore.NewFSStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	oldID := core.NewDagId("g", "f", time.Now().Add(-48*time.Hour).UnixMilli())
	require.NoError(t, store.WriteCheckpoint(ctx, testDag(oldID.FlowExecutionId)))

	set := &fakeSet{ids: []core.DagId{oldID}}
	r := New(store, set, 0)

	require.NoError(t, r.Sweep(ctx))
	assert.Len(t, set.Snapshot(), 1)
}
