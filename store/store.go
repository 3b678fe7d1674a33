package store

import (
	"context"

	"github.com/pcharbon70/loom/run"
)

// Store is the full persistence contract a backend implements.
type Store interface {
	run.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
