// Package digraph computes ready/active node sets over a core.Dag: which
// nodes may be submitted next and which nodes are currently tracked as
// active.
package digraph

import (
	"sort"

	"github.com/samber/lo"

	"github.com/dagucloud/dagu/internal/core"
)

// Ready returns the nodes that may be submitted now: not yet dispatched
// (still PENDING / PENDING_RETRY / PENDING_RESUME) and every parent
// terminal-and-COMPLETE.
func Ready(d *core.Dag) []*core.Node {
	candidates := lo.Filter(d.AllNodes(), func(n *core.Node, _ int) bool {
		switch n.Plan.Status {
		case core.StatusPending, core.StatusPendingRetry, core.StatusPendingResume:
			return parentsComplete(d, n)
		default:
			return false
		}
	})
	sortByID(candidates)
	return candidates
}

func parentsComplete(d *core.Dag, n *core.Node) bool {
	for _, pid := range n.Parents {
		parent := d.Node(pid)
		if parent == nil {
			continue
		}
		if parent.Plan.Status != core.StatusComplete {
			return false
		}
	}
	return true
}

// Active returns nodes currently tracked as submitted-but-not-terminal.
func Active(d *core.Dag) []*core.Node {
	active := lo.Filter(d.AllNodes(), func(n *core.Node, _ int) bool {
		return !n.Plan.Status.Terminal() && n.Plan.Status != core.StatusPending
	})
	sortByID(active)
	return active
}

// HasActive reports whether the Dag has any node that is neither terminal
// nor PENDING.
func HasActive(d *core.Dag) bool {
	for _, n := range d.Nodes {
		if !n.Plan.Status.Terminal() && n.Plan.Status != core.StatusPending {
			return true
		}
	}
	return false
}

func sortByID(nodes []*core.Node) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
}
