package specproducer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dagucloud/dagu/internal/core"
)

// ErrSimulatedFailure is returned by a Fake configured to fail submissions.
var ErrSimulatedFailure = errors.New("specproducer: simulated submission failure")

// FakeFuture is a Future that resolves immediately or on demand, for tests
// that need to control submission timing.
type FakeFuture struct {
	mu       sync.Mutex
	done     bool
	err      error
	resolved chan struct{}
}

// NewFakeFuture returns a future that is already resolved with err (nil
// for success).
func NewFakeFuture(err error) *FakeFuture {
	return &FakeFuture{done: true, err: err, resolved: closedChan()}
}

// NewPendingFakeFuture returns a future that only resolves when Resolve is
// called, for tests exercising the blocking submit path.
func NewPendingFakeFuture() *FakeFuture {
	return &FakeFuture{resolved: make(chan struct{})}
}

// Resolve completes a pending future.
func (f *FakeFuture) Resolve(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.done {
		return
	}
	f.done = true
	f.err = err
	close(f.resolved)
}

func (f *FakeFuture) Wait(ctx context.Context) error {
	select {
	case <-f.resolved:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *FakeFuture) Done() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Fake is an in-memory Producer for tests. It is not a production
// implementation; the real SpecProducer is out of scope per spec.md §1/§6.
type Fake struct {
	mu         sync.Mutex
	submitted  []core.JobSpec
	cancelled  []string
	nextFuture func(core.JobSpec) (Future, error)
	submits    int64
}

// NewFake returns a Fake whose AddSpec always succeeds immediately.
func NewFake() *Fake {
	return &Fake{
		nextFuture: func(core.JobSpec) (Future, error) { return NewFakeFuture(nil), nil },
	}
}

// SetNextFuture overrides the Future (or error) returned by the next
// AddSpec calls.
func (f *Fake) SetNextFuture(fn func(core.JobSpec) (Future, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextFuture = fn
}

func (f *Fake) AddSpec(_ context.Context, spec core.JobSpec) (Future, error) {
	f.mu.Lock()
	f.submitted = append(f.submitted, spec)
	fn := f.nextFuture
	f.mu.Unlock()

	atomic.AddInt64(&f.submits, 1)
	return fn(spec)
}

func (f *Fake) CancelJob(_ context.Context, _ string, serializedFuture string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, serializedFuture)
	return nil
}

func (f *Fake) SerializeAddSpecResponse(_ Future) string {
	return fmt.Sprintf("future-%d", atomic.LoadInt64(&f.submits))
}

func (f *Fake) ExecutionLink(_ Future, executorURI string) string {
	return "fake://" + executorURI
}

// Submitted returns every JobSpec passed to AddSpec, in order.
func (f *Fake) Submitted() []core.JobSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]core.JobSpec(nil), f.submitted...)
}

// Cancelled returns every serialized future passed to CancelJob, in order.
func (f *Fake) Cancelled() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cancelled...)
}

// FakeRegistry resolves every executor URI to the same Fake producer.
type FakeRegistry struct {
	P *Fake
}

// NewFakeRegistry returns a Registry backed by a single shared Fake.
func NewFakeRegistry(p *Fake) *FakeRegistry {
	return &FakeRegistry{P: p}
}

func (r *FakeRegistry) Producer(string) (Producer, error) {
	return r.P, nil
}
