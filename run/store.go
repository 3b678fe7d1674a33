package run

import (
	"context"

	"github.com/pcharbon70/loom/id"
)

// ListOpts controls filtering and pagination for run list queries.
type ListOpts struct {
	// ProjectID filters by project. Empty means all projects.
	ProjectID string
	// Status filters by run status. Empty means all statuses.
	Status Status
	// Limit is the maximum number of runs to return. Zero means no limit.
	Limit int
	// Offset is the number of runs to skip.
	Offset int
}

// Lookup resolves runs by their human-facing identifier. The retry
// identifier generator uses it for collision probing, and operations use
// it to reload the latest persisted state before mutating.
type Lookup interface {
	// FindByProjectAndRunID retrieves a run by (project_id, run_id).
	// Returns loom.ErrRunNotFound when no such run exists.
	FindByProjectAndRunID(ctx context.Context, projectID, runID string) (*Run, error)
}

// Store defines the persistence contract for workflow runs.
//
// Concurrent writers to the same run are expected to be serialized by the
// implementation (optimistic concurrency or equivalent); the lifecycle
// engine holds no locks across operations. Implementations must enforce
// (project_id, run_id) uniqueness on Create.
type Store interface {
	Lookup

	// Create persists a new run. Returns loom.ErrRunAlreadyExists when the
	// (project_id, run_id) pair is already taken.
	Create(ctx context.Context, r *Run) error

	// Get retrieves a run by surrogate ID.
	// Returns loom.ErrRunNotFound when no such run exists.
	Get(ctx context.Context, runID id.RunID) (*Run, error)

	// Update persists changes to an existing run.
	Update(ctx context.Context, r *Run) error

	// List returns runs matching the given options, ordered by creation time.
	List(ctx context.Context, opts ListOpts) ([]*Run, error)
}
