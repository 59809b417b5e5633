package core

import "time"

// NodeID names a job node within a single Dag. It corresponds to the job
// name in the flow spec.
type NodeID string

// JobSpec is the immutable job configuration received from the flow-spec
// catalog (out of scope; referenced only as an opaque payload here).
type JobSpec struct {
	Name  NodeID
	Props map[string]string
}

// SubmissionFuture is the opaque handle a SpecProducer returns from
// AddSpec. It is nullable prior to submission and is boxed rather than
// owned: serializing it for cancellation is the SpecProducer's job, not
// this package's.
type SubmissionFuture any

// JobExecutionPlan is the payload carried by every DAG node.
type JobExecutionPlan struct {
	Spec        JobSpec
	ExecutorURI string
	Status      ExecutionStatus
	// Future is the live, in-memory submission handle; it is not
	// serializable and is dropped from checkpoints (yaml:"-").
	// SerializedFuture is the SpecProducer's opaque rendering of it
	// (SerializeAddSpecResponse), persisted so a new leader can still
	// cancel the job after a failover.
	Future           SubmissionFuture `yaml:"-"`
	SerializedFuture string
	CurrentAttempts  int
	MaxAttempts      int
	FlowStartTime    time.Time
	// OrchestratedAt is stamped the first time a poll observes this node's
	// status as ORCHESTRATED; killJobIfOrphaned measures the start-SLA
	// clock from it rather than from submission time, since an executor
	// may sit on a backlog before even acknowledging the job.
	OrchestratedAt time.Time
	// JobGeneration increments on every retry/resume so that status events
	// belonging to a stale attempt are ignored by the poll pass.
	JobGeneration int64
}

// Node is one vertex of a Dag. Parents/Children are back-references by
// NodeID rather than pointers, so a node never owns its neighbours.
type Node struct {
	ID       NodeID
	Plan     *JobExecutionPlan
	Parents  []NodeID
	Children []NodeID
}

// Terminal reports whether this node's current attempt is done.
func (n *Node) Terminal() bool {
	return n.Plan.Status.Terminal()
}

// Dag is one flow execution: a directed acyclic graph of JobExecutionPlan
// nodes plus the bookkeeping spec.md §3 calls out at the flow level.
type Dag struct {
	ID            DagId
	Nodes         map[NodeID]*Node
	FailureOption FailureOption

	// FlowEvent is the pending terminal event for this flow, or empty
	// while the flow is still in progress.
	FlowEvent FlowEvent
	Message   string
	// EventEmittedTimeMillis is stamped whenever FlowEvent is (re-)emitted,
	// used by cleanup pass B to decide when to re-emit.
	EventEmittedTimeMillis int64
	FlowStartTime          time.Time
}

// NewDag builds a Dag from a flat node list. Edges are taken from each
// node's Parents/Children, which the caller (the orchestrator) is assumed
// to have built consistently — graph construction itself is out of scope.
func NewDag(id DagId, nodes []*Node, failureOption FailureOption) *Dag {
	m := make(map[NodeID]*Node, len(nodes))
	for _, n := range nodes {
		m[n.ID] = n
	}
	return &Dag{
		ID:            id,
		Nodes:         m,
		FailureOption: failureOption,
	}
}

// Node looks up a node by ID, returning nil if absent.
func (d *Dag) Node(id NodeID) *Node {
	return d.Nodes[id]
}

// AllNodes returns every node in the Dag in map-iteration order. Callers
// needing determinism should sort by ID.
func (d *Dag) AllNodes() []*Node {
	out := make([]*Node, 0, len(d.Nodes))
	for _, n := range d.Nodes {
		out = append(out, n)
	}
	return out
}
