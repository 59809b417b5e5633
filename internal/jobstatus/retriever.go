// Package jobstatus defines the read-through view over per-job and
// per-flow status events that the DagWorker polls every pass. The
// production retriever lives outside this module; only the contract and a
// fake for tests are provided here.
package jobstatus

import (
	"context"

	"github.com/dagucloud/dagu/internal/core"
)

// NAKey is the sentinel job name/group used to request a flow-level status
// event rather than a specific job's.
const NAKey = "NA"

// Event is one observed status transition for a job or, when Job == NAKey,
// the flow itself.
type Event struct {
	Group           string
	Name            string
	FlowExecutionID int64
	Job             core.NodeID
	EventName       string
	EmittedAtMillis int64
}

// Retriever is the JobStatusRetriever collaborator contract from spec §6.
type Retriever interface {
	// LatestExecutionIDsForFlow returns up to limit of the flow's most
	// recent flowExecutionIds, most recent first.
	LatestExecutionIDsForFlow(ctx context.Context, group, name string, limit int) ([]int64, error)

	// StatusesForFlowExecution returns every status event observed for
	// the given flow execution, across all of its jobs plus the flow
	// itself (job == NAKey).
	StatusesForFlowExecution(ctx context.Context, group, name string, flowExecutionID int64) ([]Event, error)
}
