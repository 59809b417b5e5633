// Package specproducer defines the SpecProducer collaborator: submission
// and cancellation of a job on a remote executor. The production producer
// lives outside this module; only the contract and a fake for tests are
// provided here.
package specproducer

import (
	"context"

	"github.com/dagucloud/dagu/internal/core"
)

// Future is the handle returned by AddSpec. Its completion means
// submission was accepted by the remote executor, not that the job has
// finished running.
type Future interface {
	// Wait blocks until the submission completes or ctx is done.
	Wait(ctx context.Context) error
	// Done reports whether the future has already resolved.
	Done() bool
}

// Producer is the SpecProducer<Spec> collaborator contract from spec §6,
// scoped to one executor URI.
type Producer interface {
	// AddSpec submits spec and returns a future that resolves once
	// submission is accepted.
	AddSpec(ctx context.Context, spec core.JobSpec) (Future, error)
	// CancelJob cancels a previously submitted job, given the executor
	// URI and the serialized submission future.
	CancelJob(ctx context.Context, executorURI string, serializedFuture string) error
	// SerializeAddSpecResponse renders a future into the opaque string
	// stored on the JobExecutionPlan for cancellation/resume.
	SerializeAddSpecResponse(future Future) string
	// ExecutionLink returns a human-facing URL for the submitted job, or
	// "" if the executor does not expose one.
	ExecutionLink(future Future, executorURI string) string
}

// Registry resolves a job's chosen executor URI to the Producer that
// serves it, mirroring the teacher's "class pluggable by name" convention
// used for stores.
type Registry interface {
	Producer(executorURI string) (Producer, error)
}
