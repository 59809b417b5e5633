package dagworker

import (
	"sync"

	"github.com/dagucloud/dagu/internal/core"
)

// FailedDagSet is the concurrent set of DagIds currently parked in the
// failed-dag store, shared by every shard's worker and the retention
// sweep (spec.md §5: "the only cross-shard mutation it supports is
// add-on-failure / remove-on-resume / remove-on-retention").
type FailedDagSet struct {
	mu  sync.Mutex
	ids map[string]core.DagId
}

// NewFailedDagSet returns an empty FailedDagSet.
func NewFailedDagSet() *FailedDagSet {
	return &FailedDagSet{ids: make(map[string]core.DagId)}
}

// Add records id as failed.
func (s *FailedDagSet) Add(id core.DagId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids[id.String()] = id
}

// Remove clears id, e.g. once a resume completes.
func (s *FailedDagSet) Remove(id core.DagId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, id.String())
}

// Contains reports whether id is currently tracked as failed.
func (s *FailedDagSet) Contains(id core.DagId) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id.String()]
	return ok
}

// Snapshot returns every tracked DagId. Observation is best-effort per
// spec.md §5 and may race with concurrent Add/Remove.
func (s *FailedDagSet) Snapshot() []core.DagId {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.DagId, 0, len(s.ids))
	for _, id := range s.ids {
		out = append(out, id)
	}
	return out
}
