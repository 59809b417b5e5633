package dagaction

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FSStore is the filesystem-backed default Store: one empty marker file
// per pending action, named by its Key(), under Dir.
type FSStore struct {
	Dir string

	mu sync.Mutex
}

// NewFSStore returns a Store rooted at dir, creating it if necessary.
func NewFSStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create dag-action directory %s: %w", dir, err)
	}
	return &FSStore{Dir: dir}, nil
}

func (s *FSStore) path(a Action) string {
	return filepath.Join(s.Dir, a.Key())
}

func (s *FSStore) Add(_ context.Context, a Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path(a), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil
		}
		return fmt.Errorf("failed to add dag action %s: %w", a.Key(), err)
	}
	return f.Close()
}

func (s *FSStore) Delete(_ context.Context, a Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(a)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete dag action %s: %w", a.Key(), err)
	}
	return nil
}

func (s *FSStore) Exists(_ context.Context, a Action) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := os.Stat(s.path(a))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat dag action %s: %w", a.Key(), err)
}

func (s *FSStore) List(_ context.Context) ([]Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list dag actions: %w", err)
	}
	actions := make([]Action, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if a, ok := parseKey(e.Name()); ok {
			actions = append(actions, a)
		}
	}
	return actions, nil
}

// Watch watches Dir for newly created action files, emitting one Action
// per fsnotify Create event whose name parses cleanly.
func (s *FSStore) Watch(ctx context.Context) (<-chan Action, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(s.Dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", s.Dir, err)
	}

	out := make(chan Action)
	go func() {
		defer close(out)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Create) {
					continue
				}
				if a, ok := parseKey(filepath.Base(ev.Name)); ok {
					select {
					case out <- a:
					case <-ctx.Done():
						return
					}
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return out, nil
}

// parseKey is best-effort: it assumes flowGroup/flowName contain no
// underscores, which holds for every identifier this module generates.
func parseKey(name string) (Action, bool) {
	parts := strings.Split(name, "_")
	if len(parts) != 4 {
		return Action{}, false
	}
	execID, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return Action{}, false
	}
	t := Type(parts[3])
	if t != Launch && t != Kill && t != Resume {
		return Action{}, false
	}
	return Action{Group: parts[0], Name: parts[1], FlowExecutionID: execID, Type: t}, true
}
