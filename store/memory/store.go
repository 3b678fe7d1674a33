package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pcharbon70/loom"
	"github.com/pcharbon70/loom/id"
	"github.com/pcharbon70/loom/run"
)

var _ run.Store = (*Store)(nil)

// Store is a fully in-memory run store. Safe for concurrent access.
// Intended for unit testing and development.
//
// Writes are serialized by the store mutex and runs are handed out as deep
// copies, so two operations computing from the same snapshot will not
// corrupt each other's records; last write wins, as with any
// non-transactional backend.
type Store struct {
	mu sync.RWMutex

	runs map[string]*run.Run // key: surrogate ID
	byPR map[string]string   // key: projectID + "\x00" + runID, value: surrogate ID
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		runs: make(map[string]*run.Run),
		byPR: make(map[string]string),
	}
}

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

func prKey(projectID, runID string) string {
	return projectID + "\x00" + runID
}

// Create persists a new run, enforcing (project_id, run_id) uniqueness.
func (m *Store) Create(_ context.Context, r *run.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := r.ID.String()
	if _, exists := m.runs[key]; exists {
		return loom.ErrRunAlreadyExists
	}
	pr := prKey(r.ProjectID, r.RunID)
	if _, exists := m.byPR[pr]; exists {
		return loom.ErrRunAlreadyExists
	}

	m.runs[key] = r.Clone()
	m.byPR[pr] = key
	return nil
}

// Get retrieves a run by surrogate ID.
func (m *Store) Get(_ context.Context, runID id.RunID) (*run.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.runs[runID.String()]
	if !ok {
		return nil, loom.ErrRunNotFound
	}
	return r.Clone(), nil
}

// FindByProjectAndRunID retrieves a run by (project_id, run_id).
func (m *Store) FindByProjectAndRunID(_ context.Context, projectID, runID string) (*run.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key, ok := m.byPR[prKey(projectID, runID)]
	if !ok {
		return nil, loom.ErrRunNotFound
	}
	return m.runs[key].Clone(), nil
}

// Update persists changes to an existing run.
func (m *Store) Update(_ context.Context, r *run.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := r.ID.String()
	if _, ok := m.runs[key]; !ok {
		return loom.ErrRunNotFound
	}
	cp := r.Clone()
	cp.UpdatedAt = time.Now().UTC()
	m.runs[key] = cp
	return nil
}

// List returns runs matching the given options, ordered by creation time.
func (m *Store) List(_ context.Context, opts run.ListOpts) ([]*run.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*run.Run, 0, len(m.runs))
	for _, r := range m.runs {
		if opts.ProjectID != "" && r.ProjectID != opts.ProjectID {
			continue
		}
		if opts.Status != "" && r.Status != opts.Status {
			continue
		}
		result = append(result, r.Clone())
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}
