package jobstatus

import (
	"context"
	"sort"
	"strconv"
	"sync"
)

// Fake is an in-memory Retriever for tests. It is not a production
// implementation; the real JobStatusRetriever is out of scope per spec.md
// §1/§6.
type Fake struct {
	mu     sync.Mutex
	events map[string][]Event // key: group/name/execId
	execs  map[string][]int64 // key: group/name
}

// NewFake returns an empty Fake.
func NewFake() *Fake {
	return &Fake{
		events: make(map[string][]Event),
		execs:  make(map[string][]int64),
	}
}

func flowKey(group, name string) string {
	return group + "/" + name
}

// Push records an event as if it had been observed by the status store.
func (f *Fake) Push(group, name string, flowExecutionID int64, ev Event) {
	f.mu.Lock()
	defer f.mu.Unlock()

	fk := flowKey(group, name)
	found := false
	for _, id := range f.execs[fk] {
		if id == flowExecutionID {
			found = true
			break
		}
	}
	if !found {
		f.execs[fk] = append(f.execs[fk], flowExecutionID)
	}

	ek := fk + "/" + strconv.FormatInt(flowExecutionID, 10)
	f.events[ek] = append(f.events[ek], ev)
}

func (f *Fake) LatestExecutionIDsForFlow(_ context.Context, group, name string, limit int) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ids := append([]int64(nil), f.execs[flowKey(group, name)]...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (f *Fake) StatusesForFlowExecution(_ context.Context, group, name string, flowExecutionID int64) ([]Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ek := flowKey(group, name) + "/" + strconv.FormatInt(flowExecutionID, 10)
	return append([]Event(nil), f.events[ek]...), nil
}
