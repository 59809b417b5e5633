// Package dagworker implements the per-shard DagWorker loop: the
// six-phase pass (cancel, submit, resume-begin, resume-finish,
// poll-and-advance, cleanup) described in spec.md §4.2, plus the queues
// and index maps a shard owns.
package dagworker

import (
	"context"
	"fmt"
	"time"

	"github.com/dagucloud/dagu/internal/core"
	"github.com/dagucloud/dagu/internal/dagaction"
	"github.com/dagucloud/dagu/internal/dagstore"
	"github.com/dagucloud/dagu/internal/digraph"
	"github.com/dagucloud/dagu/internal/jobstatus"
	"github.com/dagucloud/dagu/internal/logger"
	"github.com/dagucloud/dagu/internal/metrics"
	"github.com/dagucloud/dagu/internal/quota"
	"github.com/dagucloud/dagu/internal/specproducer"
)

// dagFlowStatusTolerance bounds how long cleanup pass B waits for a
// terminal status to land before re-emitting the flow event (spec.md
// §4.2 step 6, DAG_FLOW_STATUS_TOLERANCE_TIME_MILLIS).
const dagFlowStatusTolerance = 5 * time.Minute

// Worker runs the six-phase pass for one Shard. One Worker exists per
// shard; the supervisor schedules its Pass at a fixed cadence.
type Worker struct {
	Shard *Shard

	LiveStore   dagstore.Store
	FailedStore dagstore.Store
	ActionStore dagaction.Store
	Status      jobstatus.Retriever
	Producers   specproducer.Registry
	Quota       quota.Manager
	Metrics     *metrics.Collector
	FailedIDs   *FailedDagSet

	FailureOption    core.FailureOption
	JobStartSLA      time.Duration
	FlowSLA          time.Duration
	JobSubmitTimeout time.Duration
}

// NewWorker wires a Worker to its shard and collaborators.
func NewWorker(
	shard *Shard,
	liveStore, failedStore dagstore.Store,
	actionStore dagaction.Store,
	status jobstatus.Retriever,
	producers specproducer.Registry,
	quotaMgr quota.Manager,
	metricsCollector *metrics.Collector,
	failedIDs *FailedDagSet,
	failureOption core.FailureOption,
	jobStartSLA, flowSLA, jobSubmitTimeout time.Duration,
) *Worker {
	return &Worker{
		Shard:            shard,
		LiveStore:        liveStore,
		FailedStore:      failedStore,
		ActionStore:      actionStore,
		Status:           status,
		Producers:        producers,
		Quota:            quotaMgr,
		Metrics:          metricsCollector,
		FailedIDs:        failedIDs,
		FailureOption:    failureOption,
		JobStartSLA:      jobStartSLA,
		FlowSLA:          flowSLA,
		JobSubmitTimeout: jobSubmitTimeout,
	}
}

// Pass runs one full six-phase pass over this shard, in the order spec.md
// §4.2 and §5 require: cancel before submit, submit before resume-begin,
// resume-begin before resume-finish, polling before cleanup.
func (w *Worker) Pass(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "shard pass panicked", "shard", w.Shard.ID, "panic", r)
		}
	}()
	w.cancelPhase(ctx)
	w.submitPhase(ctx)
	w.resumeBeginPhase(ctx)
	w.resumeFinishPhase(ctx)
	w.pollAndAdvance(ctx)
	w.cleanup(ctx)

	w.Metrics.ObserveFlowStates(w.snapshotFlowStates())
	w.Metrics.ShardHeartbeat.WithLabelValues(fmt.Sprintf("%d", w.Shard.ID)).Set(float64(time.Now().Unix()))
}

// snapshotFlowStates counts this shard's in-memory dags by current state.
// A dag with no FlowEvent set yet is still running (no terminal event has
// been recorded against it).
func (w *Worker) snapshotFlowStates() map[string]int {
	counts := make(map[string]int, len(w.Shard.dags))
	for _, st := range w.Shard.dags {
		status := string(st.dag.FlowEvent)
		if status == "" {
			status = string(core.FlowRunning)
		}
		counts[status]++
	}
	return counts
}

// --- (1) cancel ---

func (w *Worker) cancelPhase(ctx context.Context) {
	id, ok := w.Shard.Cancel.Poll()
	if !ok {
		return
	}
	defer w.deleteAction(ctx, id, dagaction.Kill)

	st, ok := w.Shard.dags[id.String()]
	if !ok {
		logger.Info(ctx, "cancel requested for unknown dag", "dagId", id.String())
		return
	}

	for id := range st.activeJobs {
		if n := st.dag.Node(id); n != nil {
			w.cancelNode(ctx, st.dag, n, "cancelled by kill request")
		}
	}
	st.dag.FlowEvent = core.FlowCancelled
	st.dag.Message = "cancelled by kill request"
}

func (w *Worker) cancelNode(ctx context.Context, dag *core.Dag, n *core.Node, message string) {
	producer, err := w.Producers.Producer(n.Plan.ExecutorURI)
	if err != nil {
		logger.Error(ctx, "no producer for executor", "executorURI", n.Plan.ExecutorURI, "error", err)
	} else if err := producer.CancelJob(ctx, n.Plan.ExecutorURI, n.Plan.SerializedFuture); err != nil {
		logger.Error(ctx, "cancel job failed", "dagId", dag.ID.String(), "job", string(n.ID), "error", err)
	}

	w.Metrics.EmitJobEvent(ctx, dag.ID, n.ID, core.JobCancel, message)
	n.Plan.Status = core.StatusCancelled
	w.Quota.ReleaseQuota(ctx, quota.Node{DagID: dag.ID, Job: n.ID})

	if st, ok := w.Shard.dags[dag.ID.String()]; ok {
		delete(st.activeJobs, n.ID)
	}
	delete(w.Shard.jobToDag, jobKey(dag.ID.String(), n.ID))
}

// --- (2) submit ---

func (w *Worker) submitPhase(ctx context.Context) {
	for _, dag := range w.Shard.Submit.Drain() {
		w.initialize(ctx, dag)
	}
}

// initialize admits a freshly-submitted (or recovered) Dag into this
// shard: duplicate check, recovery of already-RUNNING nodes, dispatch of
// whatever is immediately ready.
func (w *Worker) initialize(ctx context.Context, dag *core.Dag) {
	key := dag.ID.String()
	if _, exists := w.Shard.dags[key]; exists {
		logger.Info(ctx, "duplicate dag submit ignored", "dagId", key)
		return
	}

	st := &dagState{dag: dag, activeJobs: make(map[core.NodeID]bool)}
	w.Shard.dags[key] = st

	alreadyRunning := false
	for _, n := range dag.AllNodes() {
		if n.Plan.Status == core.StatusRunning {
			st.activeJobs[n.ID] = true
			w.Shard.jobToDag[jobKey(key, n.ID)] = jobRef{dagKey: key, node: n.ID}
			alreadyRunning = true
		}
	}

	for _, n := range digraph.Ready(dag) {
		w.submitJob(ctx, st, n)
	}

	w.Metrics.EmitFlowEvent(ctx, dag.ID, core.FlowRunning, "flow running")
	if !alreadyRunning {
		delay := time.Since(time.UnixMilli(dag.ID.FlowExecutionId))
		w.Metrics.OrchestrationDelay.Observe(delay.Seconds())
	}
}

// submitJob is the 8-step sequence from spec.md §4.2: mark running,
// check quota, acquire the producer, submit, checkpoint, then block on
// acceptance. Checkpointing happens after the future is stored but
// before the blocking wait, per the Open Question (a)/(b) decisions in
// DESIGN.md: a crash mid-wait still leaves a new leader able to find
// (and best-effort cancel) the submission.
func (w *Worker) submitJob(ctx context.Context, st *dagState, n *core.Node) {
	dag := st.dag
	n.Plan.CurrentAttempts++
	n.Plan.Status = core.StatusRunning
	st.activeJobs[n.ID] = true
	w.Shard.jobToDag[jobKey(dag.ID.String(), n.ID)] = jobRef{dagKey: dag.ID.String(), node: n.ID}

	quotaNode := quota.Node{DagID: dag.ID, Job: n.ID}
	if err := w.Quota.CheckQuota(ctx, []quota.Node{quotaNode}); err != nil {
		w.failSubmit(ctx, dag, n, err)
		return
	}

	producer, err := w.Producers.Producer(n.Plan.ExecutorURI)
	if err != nil {
		w.failSubmit(ctx, dag, n, err)
		return
	}

	w.Metrics.EmitJobEvent(ctx, dag.ID, n.ID, core.JobOrchestrated, "submitting")
	if n.Plan.CurrentAttempts == 1 {
		w.Metrics.JobsSent.WithLabelValues(dag.ID.FlowGroup).Inc()
	}

	future, err := producer.AddSpec(ctx, n.Plan.Spec)
	if err != nil {
		w.failSubmit(ctx, dag, n, err)
		return
	}
	n.Plan.Future = future
	n.Plan.SerializedFuture = producer.SerializeAddSpecResponse(future)

	if err := w.LiveStore.WriteCheckpoint(ctx, dag); err != nil {
		logger.Error(ctx, "checkpoint after submit failed", "dagId", dag.ID.String(), "job", string(n.ID), "error", err)
	}

	waitCtx := ctx
	if w.JobSubmitTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, w.JobSubmitTimeout)
		defer cancel()
	}
	if err := future.Wait(waitCtx); err != nil {
		w.failSubmit(ctx, dag, n, err)
		return
	}

	w.Metrics.EmitJobEvent(ctx, dag.ID, n.ID, core.JobOrchestrated, producer.ExecutionLink(future, n.Plan.ExecutorURI))
}

func (w *Worker) failSubmit(ctx context.Context, dag *core.Dag, n *core.Node, err error) {
	w.Metrics.EmitJobEvent(ctx, dag.ID, n.ID, core.JobFailed, err.Error())
}

// --- (3) resume begin ---

func (w *Worker) resumeBeginPhase(ctx context.Context) {
	for _, id := range w.Shard.Resume.Drain() {
		w.beginResume(ctx, id)
	}
}

func (w *Worker) beginResume(ctx context.Context, id core.DagId) {
	if !w.FailedIDs.Contains(id) {
		w.deleteAction(ctx, id, dagaction.Resume)
		return
	}

	dag, err := w.FailedStore.GetDag(ctx, id)
	if err != nil || dag == nil {
		logger.Error(ctx, "resume: failed dag missing from failed store", "dagId", id.String(), "error", err)
		return
	}

	for _, n := range dag.AllNodes() {
		if n.Plan.Status == core.StatusFailed || n.Plan.Status == core.StatusCancelled {
			n.Plan.Status = core.StatusPendingResume
			n.Plan.CurrentAttempts = 0
			n.Plan.JobGeneration++
			n.Plan.OrchestratedAt = time.Time{}
			w.Metrics.EmitJobEvent(ctx, id, n.ID, core.JobPendingResume, "resuming")
		}
	}
	dag.FlowStartTime = time.Now()
	dag.FlowEvent = core.FlowPendingResume
	dag.Message = ""
	w.Metrics.EmitFlowEvent(ctx, id, core.FlowPendingResume, "resuming")

	w.Shard.resumingDags[id.String()] = dag
}

// --- (4) resume finish ---

func (w *Worker) resumeFinishPhase(ctx context.Context) {
	for key, dag := range w.Shard.resumingDags {
		ready, err := w.resumeReady(ctx, dag)
		if err != nil {
			logger.Error(ctx, "resume: status poll failed", "dagId", key, "error", err)
			continue
		}
		if !ready {
			continue
		}

		if err := w.LiveStore.WriteCheckpoint(ctx, dag); err != nil {
			logger.Error(ctx, "resume: checkpoint to live store failed", "dagId", key, "error", err)
			continue
		}
		if err := w.FailedStore.CleanUp(ctx, dag.ID); err != nil {
			logger.Error(ctx, "resume: cleanup of failed store entry failed", "dagId", key, "error", err)
		}
		w.deleteAction(ctx, dag.ID, dagaction.Resume)
		w.FailedIDs.Remove(dag.ID)
		delete(w.Shard.resumingDags, key)

		w.initialize(ctx, dag)
	}
}

// resumeReady reports whether the status store has caught up with the
// PENDING_RESUME transition: the flow-level event must read
// PENDING_RESUME and no job may still read FAILED/CANCELLED, since
// status events are only eventually consistent.
func (w *Worker) resumeReady(ctx context.Context, dag *core.Dag) (bool, error) {
	events, err := w.Status.StatusesForFlowExecution(ctx, dag.ID.FlowGroup, dag.ID.FlowName, dag.ID.FlowExecutionId)
	if err != nil {
		return false, err
	}

	flowReady := false
	for _, ev := range events {
		status := core.ParseExecutionStatus(ev.EventName)
		if ev.Job == core.NodeID(jobstatus.NAKey) && status == core.StatusPendingResume {
			flowReady = true
			continue
		}
		if status == core.StatusFailed || status == core.StatusCancelled {
			return false, nil
		}
	}
	return flowReady, nil
}

// --- (5) poll and advance ---

func (w *Worker) pollAndAdvance(ctx context.Context) {
	for _, ref := range w.snapshotJobRefs() {
		st, ok := w.Shard.dags[ref.dagKey]
		if !ok {
			delete(w.Shard.jobToDag, jobKey(ref.dagKey, ref.node))
			continue
		}
		dag := st.dag
		n := dag.Node(ref.node)
		if n == nil {
			delete(w.Shard.jobToDag, jobKey(ref.dagKey, ref.node))
			continue
		}

		if w.slaKillIfNeeded(ctx, dag, n) {
			continue
		}
		if w.killJobIfOrphaned(ctx, dag, n) {
			continue
		}

		status, err := w.pollNodeStatus(ctx, dag, n)
		if err != nil {
			logger.Error(ctx, "status poll failed", "dagId", ref.dagKey, "job", string(n.ID), "error", err)
			continue
		}

		switch status {
		case core.StatusComplete, core.StatusFailed, core.StatusCancelled:
			n.Plan.Status = status
			w.onJobFinish(ctx, st, n)
			delete(st.activeJobs, n.ID)
			delete(w.Shard.jobToDag, jobKey(ref.dagKey, ref.node))
		case core.StatusPendingRetry:
			dag.FlowEvent = ""
			n.Plan.Status = core.StatusPendingRetry
			w.submitJob(ctx, st, n)
		default:
			n.Plan.Status = status
		}
	}
}

func (w *Worker) snapshotJobRefs() []jobRef {
	refs := make([]jobRef, 0, len(w.Shard.jobToDag))
	for _, ref := range w.Shard.jobToDag {
		refs = append(refs, ref)
	}
	return refs
}

func (w *Worker) slaKillIfNeeded(ctx context.Context, dag *core.Dag, n *core.Node) bool {
	sla := w.lookupFlowSLA(dag.ID)
	if sla <= 0 || time.Since(dag.FlowStartTime) <= sla {
		return false
	}
	w.cancelNode(ctx, dag, n, "flow run SLA exceeded")
	dag.FlowEvent = core.FlowRunDeadlineExceeded
	w.Metrics.JobsRunSLAExceeded.WithLabelValues(dag.ID.FlowGroup).Inc()
	return true
}

func (w *Worker) killJobIfOrphaned(ctx context.Context, dag *core.Dag, n *core.Node) bool {
	if n.Plan.Status != core.StatusOrchestrated {
		return false
	}
	if w.JobStartSLA <= 0 || n.Plan.OrchestratedAt.IsZero() || time.Since(n.Plan.OrchestratedAt) <= w.JobStartSLA {
		return false
	}
	w.cancelNode(ctx, dag, n, "job start SLA exceeded")
	dag.FlowEvent = core.FlowStartDeadlineExceeded
	w.Metrics.JobsStartSLAExceeded.WithLabelValues(dag.ID.FlowGroup).Inc()
	return true
}

func (w *Worker) lookupFlowSLA(id core.DagId) time.Duration {
	key := id.String()
	if sla, ok := w.Shard.dagToSLA.Get(key); ok {
		return sla
	}
	w.Shard.dagToSLA.Add(key, w.FlowSLA)
	return w.FlowSLA
}

func (w *Worker) pollNodeStatus(ctx context.Context, dag *core.Dag, n *core.Node) (core.ExecutionStatus, error) {
	events, err := w.Status.StatusesForFlowExecution(ctx, dag.ID.FlowGroup, dag.ID.FlowName, dag.ID.FlowExecutionId)
	if err != nil {
		return n.Plan.Status, err
	}

	var latest *jobstatus.Event
	for i := range events {
		ev := &events[i]
		if ev.Job != n.ID {
			continue
		}
		if latest == nil || ev.EmittedAtMillis > latest.EmittedAtMillis {
			latest = ev
		}
	}
	if latest == nil {
		return core.StatusPending, nil
	}

	status := core.ParseExecutionStatus(latest.EventName)
	if status == core.StatusOrchestrated && n.Plan.OrchestratedAt.IsZero() {
		n.Plan.OrchestratedAt = time.Now()
	}
	return status, nil
}

// onJobFinish applies the terminal-status policy from spec.md §4.2.
func (w *Worker) onJobFinish(ctx context.Context, st *dagState, n *core.Node) {
	dag := st.dag
	switch n.Plan.Status {
	case core.StatusComplete:
		w.Quota.ReleaseQuota(ctx, quota.Node{DagID: dag.ID, Job: n.ID})
		w.Metrics.JobsSucceeded.WithLabelValues(dag.ID.FlowGroup).Inc()
		w.submitNext(ctx, st)
	case core.StatusFailed:
		dag.FlowEvent = core.FlowFailed
		dag.Message = fmt.Sprintf("job %s failed", n.ID)
		w.Metrics.JobsFailed.WithLabelValues(dag.ID.FlowGroup).Inc()
		w.Metrics.EmitJobEvent(ctx, dag.ID, n.ID, core.JobFailed, dag.Message)
	case core.StatusCancelled:
		dag.FlowEvent = core.FlowCancelled
		w.Quota.ReleaseQuota(ctx, quota.Node{DagID: dag.ID, Job: n.ID})
	}
}

func (w *Worker) submitNext(ctx context.Context, st *dagState) {
	for _, n := range digraph.Ready(st.dag) {
		w.submitJob(ctx, st, n)
	}
	if err := w.LiveStore.WriteCheckpoint(ctx, st.dag); err != nil {
		logger.Error(ctx, "re-checkpoint after advance failed", "dagId", st.dag.ID.String(), "error", err)
	}
}

// --- (6) cleanup ---

func (w *Worker) cleanup(ctx context.Context) {
	w.cleanupClassify(ctx)
	w.cleanupConfirm(ctx)
}

// cleanupClassify is pass A: enroll every DAG with no more active jobs
// into dagIdsToClean, writing it into the failed store first if it did
// not succeed.
func (w *Worker) cleanupClassify(ctx context.Context) {
	for key, st := range w.Shard.dags {
		if _, already := w.Shard.dagIdsToClean[key]; already {
			continue
		}
		dag := st.dag

		if (dag.FlowEvent == core.FlowFailed || dag.FlowEvent == core.FlowCancelled) &&
			(w.FailureOption == core.FinishRunning || w.FailureOption == core.Cancel) {
			for id := range st.activeJobs {
				if n := dag.Node(id); n != nil {
					w.cancelNode(ctx, dag, n, "failure option: cancelling still-active node")
				}
			}
		}

		if len(st.activeJobs) > 0 {
			continue
		}

		w.Shard.dagIdsToClean[key] = time.Now()
		if dag.FlowEvent == "" {
			dag.FlowEvent = core.FlowSucceeded
		}
		if dag.FlowEvent != core.FlowSucceeded {
			if err := w.FailedStore.WriteCheckpoint(ctx, dag); err != nil {
				logger.Error(ctx, "cleanup: write to failed store failed", "dagId", key, "error", err)
			}
			w.FailedIDs.Add(dag.ID)
		}
		w.Metrics.EmitFlowEvent(ctx, dag.ID, dag.FlowEvent, dag.Message)
		dag.EventEmittedTimeMillis = time.Now().UnixMilli()
	}
}

// cleanupConfirm is pass B: wait for the status store to reflect the
// terminal event before discarding in-memory state, re-emitting if the
// tolerance window elapses first.
func (w *Worker) cleanupConfirm(ctx context.Context) {
	for key, enrolledAt := range w.Shard.dagIdsToClean {
		st, ok := w.Shard.dags[key]
		if !ok {
			delete(w.Shard.dagIdsToClean, key)
			continue
		}
		dag := st.dag

		events, err := w.Status.StatusesForFlowExecution(ctx, dag.ID.FlowGroup, dag.ID.FlowName, dag.ID.FlowExecutionId)
		if err != nil {
			logger.Error(ctx, "cleanup: status poll failed", "dagId", key, "error", err)
			continue
		}

		if flowTerminalObserved(events) {
			w.cleanUpDag(ctx, key, dag)
			continue
		}

		if time.Since(enrolledAt) > dagFlowStatusTolerance {
			w.Metrics.EmitFlowEvent(ctx, dag.ID, dag.FlowEvent, "re-emitting: no terminal status observed yet")
			w.Shard.dagIdsToClean[key] = time.Now()
		}
	}
}

func flowTerminalObserved(events []jobstatus.Event) bool {
	for _, ev := range events {
		if ev.Job != core.NodeID(jobstatus.NAKey) {
			continue
		}
		if core.ParseExecutionStatus(ev.EventName).Terminal() {
			return true
		}
	}
	return false
}

func (w *Worker) cleanUpDag(ctx context.Context, key string, dag *core.Dag) {
	dag.FlowEvent = ""
	if err := w.LiveStore.CleanUp(ctx, dag.ID); err != nil {
		logger.Error(ctx, "cleanup: live store cleanup failed", "dagId", key, "error", err)
	}
	delete(w.Shard.dags, key)
	delete(w.Shard.dagIdsToClean, key)
}

func (w *Worker) deleteAction(ctx context.Context, id core.DagId, t dagaction.Type) {
	action := dagaction.Action{Group: id.FlowGroup, Name: id.FlowName, FlowExecutionID: id.FlowExecutionId, Type: t}
	if err := w.ActionStore.Delete(ctx, action); err != nil {
		logger.Error(ctx, "failed to delete dag action", "key", action.Key(), "error", err)
	}
}
