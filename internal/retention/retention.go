// Package retention implements FailedDagRetention: the periodic purge of
// failed DAGs older than a configured bound, per spec.md §4.3.
package retention

import (
	"context"
	"time"

	"github.com/dagucloud/dagu/internal/core"
	"github.com/dagucloud/dagu/internal/dagstore"
	"github.com/dagucloud/dagu/internal/logger"
)

// FailedDagSet is the subset of dagworker.FailedDagSet's behaviour this
// package needs, kept as a local interface so retention does not import
// dagworker just to read/mutate the shared set.
type FailedDagSet interface {
	Snapshot() []core.DagId
	Remove(id core.DagId)
}

// Retention purges the failed-dag store of anything older than Retain.
// Retain <= 0 disables the sweep entirely, per spec.md §4.3.
type Retention struct {
	Store     dagstore.Store
	FailedIDs FailedDagSet
	Retain    time.Duration
}

// New builds a Retention sweep over store, sharing the supervisor's
// failedIDs set.
func New(store dagstore.Store, failedIDs FailedDagSet, retain time.Duration) *Retention {
	return &Retention{Store: store, FailedIDs: failedIDs, Retain: retain}
}

// Sweep snapshots the failed-dag set and deletes every entry whose
// flowExecutionId (the DAG's origin timestamp) plus the retention window
// has elapsed.
func (r *Retention) Sweep(ctx context.Context) error {
	if r.Retain <= 0 {
		return nil
	}

	now := time.Now()
	for _, id := range r.FailedIDs.Snapshot() {
		origin := time.UnixMilli(id.FlowExecutionId)
		if now.Before(origin.Add(r.Retain)) {
			continue
		}
		if err := r.Store.CleanUp(ctx, id); err != nil {
			logger.Error(ctx, "retention: failed to purge dag", "dagId", id.String(), "error", err)
			continue
		}
		r.FailedIDs.Remove(id)
		logger.Info(ctx, "retention: purged failed dag", "dagId", id.String())
	}
	return nil
}
