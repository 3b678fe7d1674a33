// Package redis is a Redis-backed run store using go-redis/v9. Each run
// is stored as a JSON document keyed by its surrogate ID, with a
// per-project hash mapping run identifiers to surrogate IDs. That hash
// doubles as the uniqueness guard for (project_id, run_id), which the
// retry identifier probe relies on.
package redis

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/pcharbon70/loom/run"
)

var _ run.Store = (*Store)(nil)

// Store is a Redis implementation of run.Store.
type Store struct {
	client redis.Cmdable
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a new Redis store. The client's lifecycle is owned by the
// caller; Close on the store is a no-op.
func New(client redis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client: client,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Migrate is a no-op for Redis; keys are created on demand.
func (s *Store) Migrate(ctx context.Context) error {
	return nil
}

// Ping checks Redis connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op; the caller owns the client.
func (s *Store) Close() error {
	return nil
}

// Client returns the underlying Redis client for advanced usage.
func (s *Store) Client() redis.Cmdable {
	return s.client
}
