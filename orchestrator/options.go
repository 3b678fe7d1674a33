package orchestrator

import (
	"log/slog"
	"time"

	"github.com/pcharbon70/loom/event"
	"github.com/pcharbon70/loom/middleware"
	"github.com/pcharbon70/loom/run"
	"github.com/pcharbon70/loom/triage"
)

// Option configures an Orchestrator.
type Option func(*Orchestrator) error

// WithStore sets the run store. Required.
func WithStore(s run.Store) Option {
	return func(o *Orchestrator) error {
		o.store = s
		return nil
	}
}

// WithPublisher sets the lifecycle event publisher. When unset, event
// publication is disabled.
func WithPublisher(p event.Publisher) Option {
	return func(o *Orchestrator) error {
		o.publisher = p
		return nil
	}
}

// WithPoster sets the issue poster used by the triage workflow. When
// unset, posting runs fail with a provider error.
func WithPoster(p triage.IssuePoster) Option {
	return func(o *Orchestrator) error {
		o.poster = p
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) error {
		if logger != nil {
			o.logger = logger
		}
		return nil
	}
}

// WithClock sets the time source, mainly for tests.
func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) error {
		if clock != nil {
			o.clock = clock
		}
		return nil
	}
}

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) error {
		o.config = cfg
		return nil
	}
}

// WithMiddleware appends middleware wrapping every run operation,
// outermost first, outside the built-in chain.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(o *Orchestrator) error {
		o.extra = append(o.extra, mws...)
		return nil
	}
}
