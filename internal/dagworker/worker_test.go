package dagworker

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dagucloud/dagu/internal/core"
	"github.com/dagucloud/dagu/internal/dagaction"
	"github.com/dagucloud/dagu/internal/dagstore"
	"github.com/dagucloud/dagu/internal/jobstatus"
	"github.com/dagucloud/dagu/internal/metrics"
	"github.com/dagucloud/dagu/internal/quota"
	"github.com/dagucloud/dagu/internal/specproducer"
)

type testRig struct {
	worker   *Worker
	statuses *jobstatus.Fake
	producer *specproducer.Fake
	registry *prometheus.Registry
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	return newTestRigWith(t, nil, nil)
}

// newTestRigWith is newTestRig with the Registry and quota.Manager
// overridable, for tests that need to force a submitJob error branch.
// Either may be nil to get the default Fake registry / unlimited quota.
func newTestRigWith(t *testing.T, registry specproducer.Registry, quotaMgr quota.Manager) *testRig {
	t.Helper()

	live, err := dagstore.NewFSStore(t.TempDir())
	require.NoError(t, err)
	failed, err := dagstore.NewFSStore(t.TempDir())
	require.NoError(t, err)
	actions, err := dagaction.NewFSStore(t.TempDir())
	require.NoError(t, err)

	statuses := jobstatus.NewFake()
	producer := specproducer.NewFake()
	if registry == nil {
		registry = specproducer.NewFakeRegistry(producer)
	}
	if quotaMgr == nil {
		quotaMgr = quota.NewInMemory(0)
	}
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg, nil)
	failedIDs := NewFailedDagSet()

	shard := NewShard(0, 16)
	worker := NewWorker(shard, live, failed, actions, statuses, registry, quotaMgr, collector, failedIDs,
		core.FinishAllPossible, 0, 0, 0)

	return &testRig{worker: worker, statuses: statuses, producer: producer, registry: reg}
}

// flowStateGauge reads back the dagmanager_flows_in_state gauge's current
// value for status, or 0 if the label has no recorded value.
func flowStateGauge(t *testing.T, reg *prometheus.Registry, status string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != "dagmanager_flows_in_state" {
			continue
		}
		for _, m := range mf.Metric {
			if m.GetLabel()[0].GetValue() == status {
				return m.GetGauge().GetValue()
			}
		}
	}
	return 0
}

// failingRegistry implements specproducer.Registry by refusing every
// lookup, for tests exercising submitJob's "no producer for executor" path.
type failingRegistry struct {
	err error
}

func (r *failingRegistry) Producer(string) (specproducer.Producer, error) {
	return nil, r.err
}

func singleNodeDag(execID int64) *core.Dag {
	id := core.NewDagId("g", "f", execID)
	node := &core.Node{
		ID:   "a",
		Plan: &core.JobExecutionPlan{Spec: core.JobSpec{Name: "a"}, ExecutorURI: "exec://x", Status: core.StatusPending},
	}
	return core.NewDag(id, []*core.Node{node}, core.FinishAllPossible)
}

func TestWorkerSubmitsReadyNodeOnFirstPass(t *testing.T) {
	rig := newTestRig(t)
	dag := singleNodeDag(1000)
	rig.worker.Shard.Submit.Offer(dag)

	rig.worker.Pass(context.Background())

	assert.Len(t, rig.producer.Submitted(), 1)
	assert.Equal(t, core.NodeID("a"), rig.producer.Submitted()[0].Name)
}

func TestWorkerDrivesNodeToCompletionAndCleansUp(t *testing.T) {
	rig := newTestRig(t)
	dag := singleNodeDag(1001)
	rig.worker.Shard.Submit.Offer(dag)
	ctx := context.Background()

	// Pass 1: submits "a" (status -> RUNNING); no status event observed
	// yet, so poll-and-advance's default-missing-status rule reverts it
	// to PENDING until the status store catches up.
	rig.worker.Pass(ctx)
	require.Contains(t, rig.worker.Shard.dags, dag.ID.String())

	// The status store now reports the job actually running.
	rig.statuses.Push("g", "f", 1001, jobstatus.Event{Group: "g", Name: "f", FlowExecutionID: 1001, Job: "a", EventName: "RUNNING", EmittedAtMillis: 1})
	rig.worker.Pass(ctx)
	assert.Equal(t, core.StatusRunning, dag.Node("a").Plan.Status)

	// The job and the flow both complete. Pushing the flow-level (NAKey)
	// terminal event up front lets cleanup pass B confirm in the same
	// Pass that pass A enrolls the Dag.
	rig.statuses.Push("g", "f", 1001, jobstatus.Event{Group: "g", Name: "f", FlowExecutionID: 1001, Job: "a", EventName: "COMPLETE", EmittedAtMillis: 2})
	rig.statuses.Push("g", "f", 1001, jobstatus.Event{Group: "g", Name: "f", FlowExecutionID: 1001, Job: core.NodeID(jobstatus.NAKey), EventName: "COMPLETE", EmittedAtMillis: 3})
	rig.worker.Pass(ctx)

	assert.Equal(t, core.StatusComplete, dag.Node("a").Plan.Status)
	assert.NotContains(t, rig.worker.Shard.jobToDag, jobKey(dag.ID.String(), "a"))
	assert.NotContains(t, rig.worker.Shard.dags, dag.ID.String())
}

func TestWorkerCancelPhaseCancelsActiveNodes(t *testing.T) {
	rig := newTestRig(t)
	dag := singleNodeDag(1002)
	rig.worker.Shard.Submit.Offer(dag)
	ctx := context.Background()

	rig.worker.Pass(ctx)
	rig.worker.Shard.Cancel.Offer(dag.ID)
	rig.worker.Pass(ctx)

	assert.Equal(t, core.FlowCancelled, dag.FlowEvent)
	assert.Equal(t, core.StatusCancelled, dag.Node("a").Plan.Status)
	assert.Len(t, rig.producer.Cancelled(), 1)
}

func TestWorkerPassReportsFlowStateGauge(t *testing.T) {
	rig := newTestRig(t)
	dag := singleNodeDag(1004)
	rig.worker.Shard.Submit.Offer(dag)
	ctx := context.Background()

	rig.worker.Pass(ctx)
	assert.Equal(t, float64(1), flowStateGauge(t, rig.registry, string(core.FlowRunning)))

	rig.worker.Shard.Cancel.Offer(dag.ID)
	rig.worker.Pass(ctx)
	assert.Equal(t, float64(0), flowStateGauge(t, rig.registry, string(core.FlowRunning)),
		"a cancelled dag must no longer be reported as running")
	assert.Equal(t, float64(1), flowStateGauge(t, rig.registry, string(core.FlowCancelled)))
}

func TestWorkerDuplicateSubmitIsNoOp(t *testing.T) {
	rig := newTestRig(t)
	dag := singleNodeDag(1003)
	ctx := context.Background()

	rig.worker.Shard.Submit.Offer(dag)
	rig.worker.Pass(ctx)

	dup := singleNodeDag(1003)
	rig.worker.Shard.Submit.Offer(dup)
	rig.worker.Pass(ctx)

	assert.Len(t, rig.producer.Submitted(), 1, "the duplicate DagId must not be re-initialized")
}

func TestWorkerSubmitJobFailsWhenQuotaExceeded(t *testing.T) {
	quotaMgr := quota.NewInMemory(1)
	rig := newTestRigWith(t, nil, quotaMgr)
	ctx := context.Background()

	// Occupy the flow group's only quota slot before the real submit, so
	// submitJob's CheckQuota call is refused.
	blocker := singleNodeDag(2000)
	require.NoError(t, quotaMgr.CheckQuota(ctx, []quota.Node{{DagID: blocker.ID, Job: "a"}}))

	dag := singleNodeDag(2001)
	rig.worker.Shard.Submit.Offer(dag)
	rig.worker.Pass(ctx)

	assert.Empty(t, rig.producer.Submitted(), "a quota-refused node must never reach the SpecProducer")
	assert.Equal(t, core.StatusPending, dag.Node("a").Plan.Status,
		"failSubmit does not revert RUNNING, but the same pass's poll finds no status event and reports PENDING")
}

func TestWorkerSubmitJobFailsWhenNoProducerForExecutor(t *testing.T) {
	registry := &failingRegistry{err: errors.New("no producer registered for executor")}
	rig := newTestRigWith(t, registry, nil)
	ctx := context.Background()

	dag := singleNodeDag(2002)
	rig.worker.Shard.Submit.Offer(dag)

	assert.NotPanics(t, func() { rig.worker.Pass(ctx) })
	assert.Empty(t, rig.producer.Submitted(), "the unrelated Fake producer must never see a submission")
}
