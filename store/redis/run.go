package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pcharbon70/loom"
	"github.com/pcharbon70/loom/id"
	"github.com/pcharbon70/loom/run"
)

// Create persists a new run. HSetNX on the project hash claims the
// (project_id, run_id) pair; a lost claim is loom.ErrRunAlreadyExists,
// which backstops the retry identifier probe.
func (s *Store) Create(ctx context.Context, r *run.Run) error {
	surrogate := r.ID.String()

	exists, err := s.client.Exists(ctx, runKey(surrogate)).Result()
	if err != nil {
		return fmt.Errorf("loom/redis: check run exists: %w", err)
	}
	if exists > 0 {
		return loom.ErrRunAlreadyExists
	}

	claimed, err := s.client.HSetNX(ctx, projectRunsKey(r.ProjectID), r.RunID, surrogate).Result()
	if err != nil {
		return fmt.Errorf("loom/redis: claim run id: %w", err)
	}
	if !claimed {
		return loom.ErrRunAlreadyExists
	}

	data, err := json.Marshal(r)
	if err != nil {
		s.releaseClaim(ctx, r.ProjectID, r.RunID)
		return fmt.Errorf("loom/redis: encode run: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, runKey(surrogate), data, 0)
	pipe.SAdd(ctx, runIDsKey(), surrogate)
	if _, err := pipe.Exec(ctx); err != nil {
		s.releaseClaim(ctx, r.ProjectID, r.RunID)
		return fmt.Errorf("loom/redis: create run: %w", err)
	}
	return nil
}

// releaseClaim undoes the uniqueness claim after a failed create. Best
// effort; a leaked claim only makes the identifier probe skip a variant.
func (s *Store) releaseClaim(ctx context.Context, projectID, runID string) {
	if err := s.client.HDel(ctx, projectRunsKey(projectID), runID).Err(); err != nil {
		s.logger.Warn("failed to release run id claim",
			"project_id", projectID,
			"run_id", runID,
			"error", err)
	}
}

// Get retrieves a run by surrogate ID.
func (s *Store) Get(ctx context.Context, runID id.RunID) (*run.Run, error) {
	return s.getByKey(ctx, runKey(runID.String()))
}

// FindByProjectAndRunID retrieves a run by (project_id, run_id).
func (s *Store) FindByProjectAndRunID(ctx context.Context, projectID, runID string) (*run.Run, error) {
	surrogate, err := s.client.HGet(ctx, projectRunsKey(projectID), runID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, loom.ErrRunNotFound
		}
		return nil, fmt.Errorf("loom/redis: find run: %w", err)
	}
	return s.getByKey(ctx, runKey(surrogate))
}

func (s *Store) getByKey(ctx context.Context, key string) (*run.Run, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, loom.ErrRunNotFound
		}
		return nil, fmt.Errorf("loom/redis: get run: %w", err)
	}

	var r run.Run
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("loom/redis: decode run: %w", err)
	}
	return &r, nil
}

// Update persists changes to an existing run.
func (s *Store) Update(ctx context.Context, r *run.Run) error {
	key := runKey(r.ID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("loom/redis: check run exists: %w", err)
	}
	if exists == 0 {
		return loom.ErrRunNotFound
	}

	r.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("loom/redis: encode run: %w", err)
	}
	if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("loom/redis: update run: %w", err)
	}
	return nil
}

// List returns runs matching the given options, ordered by creation
// time. Filtering happens client side; Redis holds no secondary index
// beyond the enumeration set.
func (s *Store) List(ctx context.Context, opts run.ListOpts) ([]*run.Run, error) {
	surrogates, err := s.client.SMembers(ctx, runIDsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("loom/redis: list runs: %w", err)
	}

	runs := make([]*run.Run, 0, len(surrogates))
	for _, surrogate := range surrogates {
		r, getErr := s.getByKey(ctx, runKey(surrogate))
		if getErr != nil {
			if errors.Is(getErr, loom.ErrRunNotFound) {
				continue
			}
			return nil, getErr
		}
		if opts.ProjectID != "" && r.ProjectID != opts.ProjectID {
			continue
		}
		if opts.Status != "" && r.Status != opts.Status {
			continue
		}
		runs = append(runs, r)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.Before(runs[j].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(runs) {
			return nil, nil
		}
		runs = runs[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(runs) {
		runs = runs[:opts.Limit]
	}
	return runs, nil
}
