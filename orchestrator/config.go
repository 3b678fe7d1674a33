package orchestrator

import "time"

// Config holds configuration for the Orchestrator.
type Config struct {
	// OperationTimeout bounds each run operation, including store writes
	// and event publication. Zero disables the deadline.
	OperationTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		OperationTimeout: 30 * time.Second,
	}
}
