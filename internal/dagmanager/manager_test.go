package dagmanager

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dagucloud/dagu/internal/config"
	"github.com/dagucloud/dagu/internal/core"
	"github.com/dagucloud/dagu/internal/dagaction"
	"github.com/dagucloud/dagu/internal/dagstore"
	"github.com/dagucloud/dagu/internal/jobstatus"
	"github.com/dagucloud/dagu/internal/metrics"
	"github.com/dagucloud/dagu/internal/quota"
	"github.com/dagucloud/dagu/internal/specproducer"
)

func testConfig() *config.Config {
	cfg := &config.Config{
		NumThreads:      2,
		PollingInterval: time.Hour, // tests drive passes manually via SetActive/AddDag, not the cron
		FailureOption:   "FINISH_ALL_POSSIBLE",
	}
	cfg.FailedDagStore.RetentionPollingPeriod = time.Hour
	cfg.FailedDagStore.RetentionTime = 0
	return cfg
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	live, err := dagstore.NewFSStore(t.TempDir())
	require.NoError(t, err)
	failed, err := dagstore.NewFSStore(t.TempDir())
	require.NoError(t, err)
	actions, err := dagaction.NewFSStore(t.TempDir())
	require.NoError(t, err)

	statuses := jobstatus.NewFake()
	registry := specproducer.NewFakeRegistry(specproducer.NewFake())
	quotaMgr := quota.NewInMemory(0)
	collector := metrics.NewCollector(prometheus.NewRegistry(), nil)

	return New(testConfig(), live, failed, actions, statuses, registry, quotaMgr, collector)
}

func singleNodeDag(group, name string, execID int64) *core.Dag {
	id := core.NewDagId(group, name, execID)
	node := &core.Node{
		ID:   "a",
		Plan: &core.JobExecutionPlan{Spec: core.JobSpec{Name: "a"}, ExecutorURI: "exec://x", Status: core.StatusPending},
	}
	return core.NewDag(id, []*core.Node{node}, core.FinishAllPossible)
}

func TestSetActiveIsIdempotent(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.SetActive(ctx, true))
	assert.True(t, m.Active())
	require.NoError(t, m.SetActive(ctx, true))
	assert.True(t, m.Active())

	require.NoError(t, m.SetActive(ctx, false))
	assert.False(t, m.Active())
	require.NoError(t, m.SetActive(ctx, false))
	assert.False(t, m.Active())
}

func TestAddDagIsNoOpWhileInactive(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	dag := singleNodeDag("g", "f", 1)
	require.NoError(t, m.AddDag(ctx, dag, true, true))

	got, err := m.LiveStore.GetDag(ctx, dag.ID)
	require.NoError(t, err)
	assert.Nil(t, got, "a Dag submitted while inactive must not be persisted")
}

func TestAddDagRoutesToShardAndPersists(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, m.SetActive(ctx, true))
	defer m.SetActive(ctx, false)

	dag := singleNodeDag("g", "f", 42)
	require.NoError(t, m.AddDag(ctx, dag, true, true))

	got, err := m.LiveStore.GetDag(ctx, dag.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, dag.ID, got.ID)

	shard := m.shardFor(dag.ID)
	drained := shard.Submit.Drain()
	require.Len(t, drained, 1)
	assert.Equal(t, dag.ID, drained[0].ID)
}

func TestActivateReplaysLiveStore(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	dag := singleNodeDag("g", "f", 7)
	require.NoError(t, m.LiveStore.WriteCheckpoint(ctx, dag))

	require.NoError(t, m.SetActive(ctx, true))
	defer m.SetActive(ctx, false)

	shard := m.shardFor(dag.ID)
	drained := shard.Submit.Drain()
	require.Len(t, drained, 1, "activation must re-enqueue every live-store dag")
	assert.Equal(t, dag.ID, drained[0].ID)
}

func TestHandleKillFlowRequestRoutesToShardCancelQueue(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, m.SetActive(ctx, true))
	defer m.SetActive(ctx, false)

	id := core.NewDagId("g", "f", 9)
	m.HandleKillFlowRequest(ctx, "g", "f", 9)

	shard := m.shardFor(id)
	drained := shard.Cancel.Drain()
	require.Len(t, drained, 1)
	assert.Equal(t, id, drained[0])
}

func TestHandleResumeFlowRequestRoutesToShardResumeQueue(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, m.SetActive(ctx, true))
	defer m.SetActive(ctx, false)

	id := core.NewDagId("g", "f", 11)
	m.HandleResumeFlowRequest(ctx, "g", "f", 11)

	shard := m.shardFor(id)
	drained := shard.Resume.Drain()
	require.Len(t, drained, 1)
	assert.Equal(t, id, drained[0])
}

func TestStopDagCancelsRecentExecutions(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, m.SetActive(ctx, true))
	defer m.SetActive(ctx, false)

	statuses := m.Status.(*jobstatus.Fake)
	statuses.Push("g", "f", 100, jobstatus.Event{Group: "g", Name: "f", FlowExecutionID: 100})
	statuses.Push("g", "f", 101, jobstatus.Event{Group: "g", Name: "f", FlowExecutionID: 101})

	require.NoError(t, m.StopDag(ctx, "g", "f"))

	seen := map[int64]bool{}
	for _, s := range m.shards {
		for _, id := range s.Cancel.Drain() {
			seen[id.FlowExecutionId] = true
		}
	}
	assert.True(t, seen[100])
	assert.True(t, seen[101])
}

func TestShardStatsReportsPerShardLoad(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, m.SetActive(ctx, true))
	defer m.SetActive(ctx, false)

	stats := m.ShardStats()
	assert.Len(t, stats, 2)
}
