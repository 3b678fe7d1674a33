package middleware

import (
	"context"
	"time"
)

// Timeout returns middleware that enforces a per-operation deadline.
// A non-positive duration disables the deadline and the middleware
// becomes a pass-through. When the deadline is exceeded the context is
// cancelled and the handler should return context.DeadlineExceeded.
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, op *Op, next Handler) error {
		if d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return next(ctx)
	}
}
