package core

// FailureOption controls what a DagWorker does with the rest of a DAG once
// one of its nodes reaches FAILED or CANCELLED.
type FailureOption int

const (
	// FinishRunning drains only the nodes already running, then finalizes
	// the flow. No new node is submitted after the first failure.
	FinishRunning FailureOption = iota
	// Cancel cancels every active node immediately.
	Cancel
	// FinishAllPossible keeps scheduling any node whose ancestors all
	// succeeded, even after a sibling subtree has failed.
	FinishAllPossible
)

func (f FailureOption) String() string {
	switch f {
	case FinishRunning:
		return "FINISH_RUNNING"
	case Cancel:
		return "CANCEL"
	case FinishAllPossible:
		return "FINISH_ALL_POSSIBLE"
	default:
		return "UNKNOWN"
	}
}

// ParseFailureOption maps a configuration string to a FailureOption,
// defaulting to FinishAllPossible per spec.md §6.
func ParseFailureOption(s string) FailureOption {
	switch s {
	case "FINISH_RUNNING":
		return FinishRunning
	case "CANCEL":
		return Cancel
	case "FINISH_ALL_POSSIBLE":
		return FinishAllPossible
	default:
		return FinishAllPossible
	}
}
