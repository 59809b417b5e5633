package dagstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/goccy/go-yaml"

	"github.com/dagucloud/dagu/internal/core"
)

// FSStore is the filesystem-backed default Store: one YAML file per DagId,
// named by its String() form, under Dir.
type FSStore struct {
	Dir string

	mu sync.Mutex
}

// NewFSStore returns a Store rooted at dir, creating it if necessary.
func NewFSStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create dag-state directory %s: %w", dir, err)
	}
	return &FSStore{Dir: dir}, nil
}

func (s *FSStore) path(id core.DagId) string {
	return filepath.Join(s.Dir, id.String()+".yaml")
}

func (s *FSStore) WriteCheckpoint(_ context.Context, dag *core.Dag) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := yaml.Marshal(dag)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint for %s: %w", dag.ID, err)
	}
	tmp := s.path(dag.ID) + ".tmp"
	if err := os.WriteFile(tmp, b, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint for %s: %w", dag.ID, err)
	}
	if err := os.Rename(tmp, s.path(dag.ID)); err != nil {
		return fmt.Errorf("failed to commit checkpoint for %s: %w", dag.ID, err)
	}
	return nil
}

func (s *FSStore) GetDag(_ context.Context, id core.DagId) (*core.Dag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.readLocked(id)
}

func (s *FSStore) readLocked(id core.DagId) (*core.Dag, error) {
	b, err := os.ReadFile(s.path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read checkpoint for %s: %w", id, err)
	}
	var dag core.Dag
	if err := yaml.Unmarshal(b, &dag); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint for %s: %w", id, err)
	}
	return &dag, nil
}

func (s *FSStore) GetDags(_ context.Context) ([]*core.Dag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := s.listLocked()
	if err != nil {
		return nil, err
	}
	dags := make([]*core.Dag, 0, len(ids))
	for _, id := range ids {
		d, err := s.readLocked(id)
		if err != nil {
			return nil, err
		}
		if d != nil {
			dags = append(dags, d)
		}
	}
	return dags, nil
}

func (s *FSStore) GetDagIds(_ context.Context) ([]core.DagId, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.listLocked()
}

func (s *FSStore) listLocked() ([]core.DagId, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list dag-state directory: %w", err)
	}
	ids := make([]core.DagId, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		const suffix = ".yaml"
		if filepath.Ext(name) != suffix {
			continue
		}
		id, ok := parseDagIDFilename(name[:len(name)-len(suffix)])
		if ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// parseDagIDFilename is best-effort: it assumes flowGroup/flowName contain
// no underscores, which holds for every identifier this module generates.
func parseDagIDFilename(name string) (core.DagId, bool) {
	parts := strings.Split(name, "_")
	if len(parts) != 3 {
		return core.DagId{}, false
	}
	execID, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return core.DagId{}, false
	}
	return core.NewDagId(parts[0], parts[1], execID), true
}

func (s *FSStore) CleanUp(_ context.Context, id core.DagId) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to clean up checkpoint for %s: %w", id, err)
	}
	return nil
}
