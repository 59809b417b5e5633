// Package dagmanager implements the DagManager supervisor: the leader-
// gated lifecycle, shard allocation and routing, and the public entry
// points described in spec.md §4.1.
package dagmanager

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/dagucloud/dagu/internal/backoff"
	"github.com/dagucloud/dagu/internal/config"
	"github.com/dagucloud/dagu/internal/core"
	"github.com/dagucloud/dagu/internal/dagaction"
	"github.com/dagucloud/dagu/internal/dagstore"
	"github.com/dagucloud/dagu/internal/dagworker"
	"github.com/dagucloud/dagu/internal/jobstatus"
	"github.com/dagucloud/dagu/internal/logger"
	"github.com/dagucloud/dagu/internal/metrics"
	"github.com/dagucloud/dagu/internal/quota"
	"github.com/dagucloud/dagu/internal/retention"
	"github.com/dagucloud/dagu/internal/specproducer"
)

// housekeepingInitialInterval and housekeepingMaxInterval set the
// recovery re-sync schedule from spec.md §4.1 step 7: 2, 4, 8, ... minutes
// up to 180 minutes.
const (
	housekeepingInitialInterval = 2 * time.Minute
	housekeepingMaxInterval     = 180 * time.Minute
	shutdownTimeout             = 30 * time.Second
)

// AdhocSpecRemover is the out-of-scope flow-spec catalog's hook for
// dropping a one-shot (unscheduled) flow spec once it has been launched.
type AdhocSpecRemover interface {
	RemoveIfAdhoc(ctx context.Context, group, name string) error
}

// ShardStat is a point-in-time snapshot of one shard's load, surfaced by
// the admin HTTP API.
type ShardStat struct {
	ID          int
	TrackedDags int
}

// Manager is the DagManager supervisor. It is idle at construction;
// SetActive(true) brings up the shards, schedules them, and replays the
// live store.
type Manager struct {
	Config      *config.Config
	LiveStore   dagstore.Store
	FailedStore dagstore.Store
	ActionStore dagaction.Store
	Status      jobstatus.Retriever
	Producers   specproducer.Registry
	Quota       quota.Manager
	Metrics     *metrics.Collector

	instanceID string

	// mu serialises the few state-transition entry points spec.md §5
	// calls out (addDag, stopDag, setActive, addFailedDag); per-shard
	// work below is unsynchronised against the supervisor because each
	// shard owns its own data.
	mu        sync.Mutex
	active    bool
	shards    []*dagworker.Shard
	workers   []*dagworker.Worker
	failedIDs *dagworker.FailedDagSet
	cron      *cron.Cron
	cancel    context.CancelFunc
}

// New wires a Manager to its collaborators. It starts idle; call
// SetActive(ctx, true) once this node wins leadership.
func New(
	cfg *config.Config,
	liveStore, failedStore dagstore.Store,
	actionStore dagaction.Store,
	status jobstatus.Retriever,
	producers specproducer.Registry,
	quotaMgr quota.Manager,
	metricsCollector *metrics.Collector,
) *Manager {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return &Manager{
		Config:      cfg,
		LiveStore:   liveStore,
		FailedStore: failedStore,
		ActionStore: actionStore,
		Status:      status,
		Producers:   producers,
		Quota:       quotaMgr,
		Metrics:     metricsCollector,
		instanceID:  fmt.Sprintf("%s-%d", hostname, os.Getpid()),
		failedIDs:   dagworker.NewFailedDagSet(),
	}
}

// InstanceID identifies this Manager process, for logging and /healthz.
func (m *Manager) InstanceID() string { return m.instanceID }

// Active reports whether this node currently holds leadership.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// ShardStats snapshots each shard's tracked-Dag count.
func (m *Manager) ShardStats() []ShardStat {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := make([]ShardStat, len(m.shards))
	for i, s := range m.shards {
		stats[i] = ShardStat{ID: s.ID, TrackedDags: s.Len()}
	}
	return stats
}

// SetActive transitions leadership. A no-op if already in the requested
// state.
func (m *Manager) SetActive(ctx context.Context, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if active == m.active {
		return nil
	}
	if active {
		return m.activateLocked(ctx)
	}
	m.deactivateLocked(ctx)
	return nil
}

func (m *Manager) activateLocked(ctx context.Context) error {
	logger.Info(ctx, "dagmanager activating", "instanceId", m.instanceID)

	failedList, err := m.FailedStore.GetDagIds(ctx)
	if err != nil {
		return fmt.Errorf("failed to snapshot failed dag ids: %w", err)
	}
	m.failedIDs = dagworker.NewFailedDagSet()
	for _, id := range failedList {
		m.failedIDs.Add(id)
	}

	liveDags, err := m.LiveStore.GetDags(ctx)
	if err != nil {
		return fmt.Errorf("failed to load live dags: %w", err)
	}
	if err := m.Quota.Init(ctx, liveDags); err != nil {
		return fmt.Errorf("failed to seed quota manager: %w", err)
	}

	n := m.Config.NumThreads
	if n <= 0 {
		n = 1
	}
	m.shards = make([]*dagworker.Shard, n)
	m.workers = make([]*dagworker.Worker, n)
	failureOption := core.ParseFailureOption(m.Config.FailureOption)
	for i := 0; i < n; i++ {
		shard := dagworker.NewShard(i, 1024)
		m.shards[i] = shard
		m.workers[i] = dagworker.NewWorker(
			shard, m.LiveStore, m.FailedStore, m.ActionStore, m.Status, m.Producers, m.Quota, m.Metrics, m.failedIDs,
			failureOption, m.Config.JobStartSLA, m.Config.FlowSLA, m.Config.JobSubmitTimeout,
		)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	if err := m.scheduleShardsLocked(runCtx); err != nil {
		cancel()
		return err
	}

	for _, dag := range liveDags {
		m.addDagLocked(ctx, dag, false, false)
	}

	m.watchActions(runCtx)
	m.scheduleHousekeeping(runCtx)

	m.active = true
	return nil
}

func (m *Manager) scheduleShardsLocked(ctx context.Context) error {
	m.cron = cron.New()

	pollSpec := fmt.Sprintf("@every %s", m.Config.PollingInterval)
	for i, w := range m.workers {
		shardID, worker := i, w
		if _, err := m.cron.AddFunc(pollSpec, func() { m.runShardPass(ctx, shardID, worker) }); err != nil {
			return fmt.Errorf("failed to schedule shard %d: %w", shardID, err)
		}
	}

	retainer := retention.New(m.FailedStore, m.failedIDs, m.Config.FailedDagStore.RetentionTime)
	retentionSpec := fmt.Sprintf("@every %s", m.Config.FailedDagStore.RetentionPollingPeriod)
	if _, err := m.cron.AddFunc(retentionSpec, func() { m.runRetention(ctx, retainer) }); err != nil {
		return fmt.Errorf("failed to schedule retention: %w", err)
	}

	m.cron.Start()
	return nil
}

func (m *Manager) runShardPass(ctx context.Context, shardID int, w *dagworker.Worker) {
	passID := uuid.NewString()
	logger.Debug(ctx, "shard pass starting", "shard", shardID, "passId", passID)
	w.Pass(ctx)
}

func (m *Manager) runRetention(ctx context.Context, r *retention.Retention) {
	if err := r.Sweep(ctx); err != nil {
		logger.Error(ctx, "retention sweep failed", "error", err)
	}
}

// scheduleHousekeeping re-runs the live-store load step on an
// exponential-backoff schedule to recover DAGs that may have been missed
// due to transient read errors during activation (spec.md §4.1 step 7).
func (m *Manager) scheduleHousekeeping(ctx context.Context) {
	policy := backoff.NewHousekeepingSchedule(housekeepingInitialInterval, housekeepingMaxInterval)
	retrier := backoff.NewRetrier(policy)
	go func() {
		for {
			if err := retrier.Next(ctx, nil); err != nil {
				return
			}
			m.resync(ctx)
		}
	}()
}

func (m *Manager) resync(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return
	}

	dags, err := m.LiveStore.GetDags(ctx)
	if err != nil {
		logger.Error(ctx, "housekeeping resync failed to load live dags", "error", err)
		return
	}
	for _, dag := range dags {
		m.addDagLocked(ctx, dag, false, false)
	}
}

// watchActions drives HandleKillFlowRequest/HandleResumeFlowRequest from
// the dag-action store's change-stream, per spec.md §4.1.
func (m *Manager) watchActions(ctx context.Context) {
	ch, err := m.ActionStore.Watch(ctx)
	if err != nil {
		logger.Error(ctx, "failed to start dag-action watch", "error", err)
		return
	}
	go func() {
		for action := range ch {
			switch action.Type {
			case dagaction.Kill:
				m.HandleKillFlowRequest(ctx, action.Group, action.Name, action.FlowExecutionID)
			case dagaction.Resume:
				m.HandleResumeFlowRequest(ctx, action.Group, action.Name, action.FlowExecutionID)
			case dagaction.Launch:
				// Launch actions are driven by the orchestrator calling
				// AddDag directly; the action log only exists so a new
				// leader can tell a pending launch apart from one
				// already admitted.
			}
		}
	}()
}

func (m *Manager) deactivateLocked(ctx context.Context) {
	logger.Info(ctx, "dagmanager deactivating", "instanceId", m.instanceID)

	if m.cancel != nil {
		m.cancel()
	}
	if m.cron != nil {
		stopCtx := m.cron.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(shutdownTimeout):
			logger.Warn(ctx, "dagmanager shutdown timed out waiting for in-flight passes")
		}
	}

	// In-memory indices are discarded; the durable stores are
	// authoritative and the next leader rebuilds from them.
	m.shards = nil
	m.workers = nil
	m.cron = nil
	m.cancel = nil
	m.active = false
}

// AddDag admits dag at shard hash(flowExecutionId) mod N, persisting and
// emitting a FLOW_PENDING event as directed. It is silently dropped while
// inactive, on the expectation that a new leader will re-drive it from
// the dag-action store.
func (m *Manager) AddDag(ctx context.Context, dag *core.Dag, persist, setStatus bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		logger.Debug(ctx, "addDag dropped: inactive", "dagId", dag.ID.String())
		return nil
	}
	return m.addDagLocked(ctx, dag, persist, setStatus)
}

func (m *Manager) addDagLocked(ctx context.Context, dag *core.Dag, persist, setStatus bool) error {
	if persist {
		if err := m.LiveStore.WriteCheckpoint(ctx, dag); err != nil {
			return fmt.Errorf("failed to checkpoint dag %s: %w", dag.ID, err)
		}
		action := dagaction.Action{Group: dag.ID.FlowGroup, Name: dag.ID.FlowName, FlowExecutionID: dag.ID.FlowExecutionId, Type: dagaction.Launch}
		if err := m.ActionStore.Delete(ctx, action); err != nil {
			logger.Error(ctx, "failed to delete launch action", "dagId", dag.ID.String(), "error", err)
		}
	}

	m.shardFor(dag.ID).Submit.Offer(dag)

	if setStatus {
		m.Metrics.EmitFlowEvent(ctx, dag.ID, core.FlowPending, "flow pending")
	}
	return nil
}

// AddDagAndRemoveAdhocFlowSpec calls AddDag and, on success, asks remover
// to drop the flow spec if it is ad-hoc (unscheduled).
func (m *Manager) AddDagAndRemoveAdhocFlowSpec(ctx context.Context, remover AdhocSpecRemover, dag *core.Dag, persist, setStatus bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return nil
	}
	if err := m.addDagLocked(ctx, dag, persist, setStatus); err != nil {
		return err
	}
	if remover != nil {
		if err := remover.RemoveIfAdhoc(ctx, dag.ID.FlowGroup, dag.ID.FlowName); err != nil {
			logger.Error(ctx, "failed to remove adhoc flow spec", "dagId", dag.ID.String(), "error", err)
		}
	}
	return nil
}

// recentExecutionLimit bounds how many of a flow's recent executions
// StopDag will resolve and cancel (spec.md §4.1: "bounded to the latest
// K, default 10").
const recentExecutionLimit = 10

// StopDag resolves group/name's recent execution IDs and enqueues a KILL
// on each one's owning shard.
func (m *Manager) StopDag(ctx context.Context, group, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return nil
	}

	ids, err := m.Status.LatestExecutionIDsForFlow(ctx, group, name, recentExecutionLimit)
	if err != nil {
		return fmt.Errorf("failed to resolve recent executions for %s/%s: %w", group, name, err)
	}
	for _, execID := range ids {
		dagID := core.NewDagId(group, name, execID)
		m.shardFor(dagID).Cancel.Offer(dagID)
	}
	return nil
}

// HandleKillFlowRequest routes a kill request to the shard owning
// (group, name, execID).
func (m *Manager) HandleKillFlowRequest(ctx context.Context, group, name string, execID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return
	}
	id := core.NewDagId(group, name, execID)
	m.shardFor(id).Cancel.Offer(id)
}

// HandleResumeFlowRequest routes a resume request to the shard owning
// (group, name, execID).
func (m *Manager) HandleResumeFlowRequest(ctx context.Context, group, name string, execID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return
	}
	id := core.NewDagId(group, name, execID)
	m.shardFor(id).Resume.Offer(id)
}

func (m *Manager) shardFor(id core.DagId) *dagworker.Shard {
	return m.shards[id.Shard(len(m.shards))]
}
