// Package core defines the data model shared by the DAG execution manager:
// DagId, ExecutionStatus, FailureOption, and the Dag/JobExecutionPlan
// structures that the DagManager and DagWorker operate on.
package core

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
)

// DagId uniquely identifies one flow execution. It is printed as
// "group_name_execId" wherever it is used as a store key.
type DagId struct {
	FlowGroup       string
	FlowName        string
	FlowExecutionId int64
}

// NewDagId builds a DagId from its three components.
func NewDagId(group, name string, execID int64) DagId {
	return DagId{FlowGroup: group, FlowName: name, FlowExecutionId: execID}
}

// String renders the canonical store key for this DagId.
func (id DagId) String() string {
	return fmt.Sprintf("%s_%s_%d", id.FlowGroup, id.FlowName, id.FlowExecutionId)
}

// Shard computes the stable shard index for this DagId under n shards.
// Routing is keyed only on FlowExecutionId so that kill/resume requests,
// which only know (group, name, execId), land on the same shard that
// admitted the submission.
func (id DagId) Shard(n int) int {
	if n <= 0 {
		return 0
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(id.FlowExecutionId))
	h := fnv.New32a()
	_, _ = h.Write(buf[:])
	return int(h.Sum32() % uint32(n))
}
