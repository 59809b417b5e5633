// Package quota defines the QuotaManager collaborator: global per-flow
// concurrency caps checked on submit and released on terminal status. The
// production quota manager lives outside this module; this package
// provides the contract and an in-memory implementation suitable for a
// single-process deployment and for tests.
package quota

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dagucloud/dagu/internal/core"
)

// ErrQuotaExceeded is returned by CheckQuota when a node's flow has no
// remaining concurrency budget.
var ErrQuotaExceeded = errors.New("quota: concurrency limit exceeded")

// Node identifies the job node a quota acquire/release applies to.
type Node struct {
	DagID core.DagId
	Job   core.NodeID
}

// Manager is the QuotaManager collaborator contract from spec §6.
type Manager interface {
	// Init seeds accounting from the live store's DAGs on activation, so
	// counts survive a restart.
	Init(ctx context.Context, dags []*core.Dag) error
	// CheckQuota acquires quota for every node in nodes, atomically: if
	// any node's flow is over its limit, none are acquired.
	CheckQuota(ctx context.Context, nodes []Node) error
	// ReleaseQuota releases the quota held for node. Returns false if no
	// outstanding acquire was found (double-release).
	ReleaseQuota(ctx context.Context, node Node) bool
}

// InMemory is a single-process Manager: a per-flow-group running-job
// counter, capped at Limit (0 means unlimited).
type InMemory struct {
	mu      sync.Mutex
	Limit   int
	running map[string]int
	held    map[Node]bool
}

// NewInMemory returns an InMemory manager with the given per-flow-group
// concurrency limit (0 = unlimited).
func NewInMemory(limit int) *InMemory {
	return &InMemory{
		Limit:   limit,
		running: make(map[string]int),
		held:    make(map[Node]bool),
	}
}

func flowGroupKey(id core.DagId) string {
	return id.FlowGroup
}

func (m *InMemory) Init(_ context.Context, dags []*core.Dag) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.running = make(map[string]int)
	m.held = make(map[Node]bool)
	for _, d := range dags {
		for _, n := range d.AllNodes() {
			if n.Plan == nil || n.Plan.Status != core.StatusRunning {
				continue
			}
			node := Node{DagID: d.ID, Job: n.ID}
			m.held[node] = true
			m.running[flowGroupKey(d.ID)]++
		}
	}
	return nil
}

func (m *InMemory) CheckQuota(_ context.Context, nodes []Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Limit <= 0 {
		for _, n := range nodes {
			m.held[n] = true
			m.running[flowGroupKey(n.DagID)]++
		}
		return nil
	}

	delta := make(map[string]int)
	for _, n := range nodes {
		delta[flowGroupKey(n.DagID)]++
	}
	for group, want := range delta {
		if m.running[group]+want > m.Limit {
			return fmt.Errorf("%w: flow group %q at %d/%d", ErrQuotaExceeded, group, m.running[group], m.Limit)
		}
	}
	for _, n := range nodes {
		m.held[n] = true
		m.running[flowGroupKey(n.DagID)]++
	}
	return nil
}

func (m *InMemory) ReleaseQuota(_ context.Context, node Node) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.held[node] {
		return false
	}
	delete(m.held, node)
	group := flowGroupKey(node.DagID)
	if m.running[group] > 0 {
		m.running[group]--
	}
	return true
}
