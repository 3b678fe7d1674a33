package middleware

import (
	"context"
)

// Op describes the lifecycle operation being executed, for middleware
// to log, trace, and meter against.
type Op struct {
	// Name is the operation name, e.g. "transition_run_status".
	Name string

	// RunID is the caller-facing run identifier, empty for operations
	// that create the run.
	RunID string

	// ProjectID scopes the run.
	ProjectID string

	// WorkflowName is the workflow the run executes.
	WorkflowName string

	// Attempt is the run's retry attempt number, zero when unknown.
	Attempt int
}

// Handler is the terminal function that executes the operation logic.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic.
// It receives the current context, the operation being executed, and the
// next handler to call. Middleware MUST call next to continue the chain
// (unless short-circuiting on error).
type Middleware func(ctx context.Context, op *Op, next Handler) error

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
//
// Example: Chain(logging, recover, tracing) executes as:
//
//	logging → recover → tracing → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, op *Op, next Handler) error {
		// Build the chain from the end backwards.
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, op, prev)
			}
		}
		return h(ctx)
	}
}
