// Package dagstore implements the DagStateStore collaborator: a durable
// key/value store of serialized DAGs keyed by DagId, per spec.md §6. One
// instance backs the live store, a second (overlaid with its own
// retention policy) backs the failed-dag store; both share the same
// Store interface and backends (filesystem default, SQLite alternative).
package dagstore

import (
	"context"

	"github.com/dagucloud/dagu/internal/core"
)

// Store is the DagStateStore collaborator contract from spec §6.
type Store interface {
	// WriteCheckpoint persists dag's current state, overwriting any
	// prior checkpoint for the same DagId.
	WriteCheckpoint(ctx context.Context, dag *core.Dag) error
	// GetDag loads the checkpoint for id, or (nil, nil) if absent.
	GetDag(ctx context.Context, id core.DagId) (*core.Dag, error)
	// GetDags loads every checkpointed DAG.
	GetDags(ctx context.Context) ([]*core.Dag, error)
	// GetDagIds returns every DagId with a checkpoint.
	GetDagIds(ctx context.Context) ([]core.DagId, error)
	// CleanUp deletes the checkpoint for id.
	CleanUp(ctx context.Context, id core.DagId) error
}
