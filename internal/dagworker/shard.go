package dagworker

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dagucloud/dagu/internal/core"
)

// dagState is one shard's in-memory bookkeeping for a single tracked Dag.
type dagState struct {
	dag        *core.Dag
	activeJobs map[core.NodeID]bool
}

// jobRef locates a tracked job node by its owning DagId, so the
// poll-and-advance pass can iterate jobToDag without holding the Dag
// pointer itself (a node can outlive the map entry pointing at it).
type jobRef struct {
	dagKey string
	node   core.NodeID
}

func jobKey(dagKey string, node core.NodeID) string {
	return dagKey + "/" + string(node)
}

// Shard is one DagWorker's slice of the supervisor: its three FIFO queues
// plus the single-writer index maps spec.md §5 calls out as requiring no
// locking, since only the owning worker goroutine ever touches them.
type Shard struct {
	ID int

	// Submit carries whole Dag payloads (a fresh submission brings its
	// own graph); Cancel and Resume only need to name a DagId: a kill
	// names a Dag the worker already holds in its index maps, and a resume
	// names a Dag the worker loads from the failed store.
	Submit *Queue[*core.Dag]
	Cancel *Queue[core.DagId]
	Resume *Queue[core.DagId]

	dags          map[string]*dagState
	jobToDag      map[string]jobRef
	resumingDags  map[string]*core.Dag
	dagIdsToClean map[string]time.Time
	dagToSLA      *lru.Cache[string, time.Duration]
}

// NewShard allocates shard id with its queues and index maps. slaCacheSize
// bounds the dagToSLA memoisation cache (spec.md §4.2 step 5.1).
func NewShard(id int, slaCacheSize int) *Shard {
	if slaCacheSize <= 0 {
		slaCacheSize = 1024
	}
	cache, _ := lru.New[string, time.Duration](slaCacheSize)
	return &Shard{
		ID:            id,
		Submit:        NewQueue[*core.Dag](),
		Cancel:        NewQueue[core.DagId](),
		Resume:        NewQueue[core.DagId](),
		dags:          make(map[string]*dagState),
		jobToDag:      make(map[string]jobRef),
		resumingDags:  make(map[string]*core.Dag),
		dagIdsToClean: make(map[string]time.Time),
		dagToSLA:      cache,
	}
}

// Len reports how many DAGs this shard currently tracks, for /debug/shards.
func (s *Shard) Len() int {
	return len(s.dags)
}
