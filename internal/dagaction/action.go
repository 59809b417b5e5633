// Package dagaction implements the DagActionStore collaborator: a durable
// log of pending external actions (LAUNCH, KILL, RESUME) keyed by
// (group, name, flowExecutionId, type), per spec.md §6. Two backends are
// provided: a filesystem default, watched with fsnotify, and a Redis
// alternative using Pub/Sub for its change-stream.
package dagaction

import (
	"context"
	"fmt"
)

// Type is one of the three action kinds the supervisor drains from the
// action log.
type Type string

const (
	Launch Type = "LAUNCH"
	Kill   Type = "KILL"
	Resume Type = "RESUME"
)

// Action identifies a pending external request against one flow execution.
type Action struct {
	Group           string
	Name            string
	FlowExecutionID int64
	Type            Type
}

// Key renders the action's identity as a stable string, safe to use as a
// filesystem name or store key.
func (a Action) Key() string {
	return fmt.Sprintf("%s_%s_%d_%s", a.Group, a.Name, a.FlowExecutionID, a.Type)
}

// Store is the DagActionStore collaborator contract from spec §6.
type Store interface {
	// Add records a pending action. Adding an action that already
	// exists is a no-op.
	Add(ctx context.Context, action Action) error
	// Delete removes a pending action. Deleting one that does not exist
	// is a no-op.
	Delete(ctx context.Context, action Action) error
	// Exists reports whether action is currently pending.
	Exists(ctx context.Context, action Action) (bool, error)
	// List enumerates every pending action.
	List(ctx context.Context) ([]Action, error)
	// Watch streams actions as they are added, until ctx is done. The
	// returned channel is closed when the watch ends.
	Watch(ctx context.Context) (<-chan Action, error)
}
