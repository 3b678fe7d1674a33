// Package orchestrator wires the loom subsystems into a single facade.
//
// An Orchestrator holds the run store, the lifecycle engine, the event
// adapter, and the issue-triage workflow, and drives every public run
// operation through a middleware chain (logging, panic recovery,
// timeout, tracing, metrics).
//
//	orc, err := orchestrator.New(
//	    orchestrator.WithStore(memory.New()),
//	    orchestrator.WithPublisher(event.NewMemoryPublisher()),
//	    orchestrator.WithPoster(githubPoster),
//	)
//	r, err := orc.CreateRun(ctx, lifecycle.CreateAttrs{...})
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/pcharbon70/loom"
	"github.com/pcharbon70/loom/event"
	"github.com/pcharbon70/loom/lifecycle"
	"github.com/pcharbon70/loom/middleware"
	"github.com/pcharbon70/loom/run"
	"github.com/pcharbon70/loom/store"
	"github.com/pcharbon70/loom/triage"
)

// Orchestrator is the entry point for run lifecycle operations.
type Orchestrator struct {
	config    Config
	store     run.Store
	publisher event.Publisher
	poster    triage.IssuePoster
	logger    *slog.Logger
	clock     func() time.Time
	extra     []middleware.Middleware

	chain  middleware.Middleware
	engine *lifecycle.Engine
	triage *triage.Workflow
}

// New creates an Orchestrator from functional options. A store is
// required; every other collaborator has a working default (nil
// publisher disables events, nil poster fails posting runs).
func New(opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		config: DefaultConfig(),
		logger: slog.Default(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	if o.store == nil {
		return nil, loom.ErrNoStore
	}

	adapter := event.NewAdapter(o.publisher)
	o.engine = lifecycle.NewEngine(o.store, adapter, o.logger, o.clock)
	o.triage = triage.NewWorkflow(o.engine, o.poster, o.logger, o.clock)

	// User middleware wraps outermost; recovery sits inside logging so
	// a converted panic is still logged as a failed operation.
	mws := append([]middleware.Middleware{}, o.extra...)
	mws = append(mws,
		middleware.Logging(o.logger),
		middleware.Recover(o.logger),
		middleware.Timeout(o.config.OperationTimeout),
		middleware.Tracing(),
		middleware.Metrics(),
	)
	o.chain = middleware.Chain(mws...)

	return o, nil
}

// Engine exposes the underlying lifecycle engine for callers composing
// their own operations.
func (o *Orchestrator) Engine() *lifecycle.Engine { return o.engine }

// Logger returns the orchestrator's logger.
func (o *Orchestrator) Logger() *slog.Logger { return o.logger }

// ── Run operations ───────────────────────────────────────────────────

// CreateRun creates a new pending run.
func (o *Orchestrator) CreateRun(ctx context.Context, attrs lifecycle.CreateAttrs) (*run.Run, error) {
	op := &middleware.Op{
		Name:         "create_run",
		RunID:        attrs.RunID,
		ProjectID:    attrs.ProjectID,
		WorkflowName: attrs.WorkflowName,
		Attempt:      1,
	}
	return o.exec(ctx, op, func(ctx context.Context) (*run.Run, error) {
		return o.engine.Create(ctx, attrs)
	})
}

// GetRun retrieves a run by (project_id, run_id).
func (o *Orchestrator) GetRun(ctx context.Context, projectID, runID string) (*run.Run, error) {
	return o.store.FindByProjectAndRunID(ctx, projectID, runID)
}

// ListRuns returns runs matching the given options.
func (o *Orchestrator) ListRuns(ctx context.Context, opts run.ListOpts) ([]*run.Run, error) {
	return o.store.List(ctx, opts)
}

// TransitionRun applies a status transition to the named run.
func (o *Orchestrator) TransitionRun(ctx context.Context, projectID, runID string, args lifecycle.TransitionArgs) (*run.Run, error) {
	return o.withRun(ctx, "transition_run_status", projectID, runID,
		func(ctx context.Context, r *run.Run) (*run.Run, error) {
			return o.engine.TransitionStatus(ctx, r, args)
		})
}

// ApproveRun resumes an awaiting_approval run with a human approval.
func (o *Orchestrator) ApproveRun(ctx context.Context, projectID, runID string, params lifecycle.ApproveParams) (*run.Run, error) {
	return o.withRun(ctx, "approve_run", projectID, runID,
		func(ctx context.Context, r *run.Run) (*run.Run, error) {
			if r.WorkflowName == triage.WorkflowName {
				return o.triage.Approve(ctx, r, params)
			}
			return o.engine.Approve(ctx, r, params)
		})
}

// RejectRun cancels an awaiting_approval run with a human rejection.
func (o *Orchestrator) RejectRun(ctx context.Context, projectID, runID string, params lifecycle.ApproveParams) (*run.Run, error) {
	return o.withRun(ctx, "reject_run", projectID, runID,
		func(ctx context.Context, r *run.Run) (*run.Run, error) {
			return o.engine.Reject(ctx, r, params)
		})
}

// RetryRun creates a new run retrying the full workflow of the named run.
func (o *Orchestrator) RetryRun(ctx context.Context, projectID, runID string, params lifecycle.RetryParams) (*run.Run, error) {
	return o.withRun(ctx, "retry_run", projectID, runID,
		func(ctx context.Context, r *run.Run) (*run.Run, error) {
			return o.engine.Retry(ctx, r, params)
		})
}

// RetryRunStep creates a new run retrying a single step of the named run.
func (o *Orchestrator) RetryRunStep(ctx context.Context, projectID, runID string, params lifecycle.RetryStepParams) (*run.Run, error) {
	return o.withRun(ctx, "retry_run_step", projectID, runID,
		func(ctx context.Context, r *run.Run) (*run.Run, error) {
			return o.engine.RetryStep(ctx, r, params)
		})
}

// StepRetryContract resolves the named run's step-retry declaration.
func (o *Orchestrator) StepRetryContract(ctx context.Context, projectID, runID string) (lifecycle.StepRetryContract, error) {
	r, err := o.store.FindByProjectAndRunID(ctx, projectID, runID)
	if err != nil {
		return lifecycle.StepRetryContract{}, err
	}
	return o.engine.StepRetryContract(r), nil
}

// AdvanceTriage advances a pending issue-triage run: auto-posting mode
// posts immediately, otherwise the run parks at the approval gate.
func (o *Orchestrator) AdvanceTriage(ctx context.Context, projectID, runID string) (*run.Run, error) {
	return o.withRun(ctx, "advance_issue_triage_run", projectID, runID,
		func(ctx context.Context, r *run.Run) (*run.Run, error) {
			return o.triage.Advance(ctx, r)
		})
}

// ── Store lifecycle ──────────────────────────────────────────────────

// Migrate prepares backing storage when the store supports it.
func (o *Orchestrator) Migrate(ctx context.Context) error {
	if s, ok := o.store.(store.Store); ok {
		return s.Migrate(ctx)
	}
	return nil
}

// Ping checks store connectivity when the store supports it.
func (o *Orchestrator) Ping(ctx context.Context) error {
	if s, ok := o.store.(store.Store); ok {
		return s.Ping(ctx)
	}
	return nil
}

// Close releases store resources when the store supports it.
func (o *Orchestrator) Close() error {
	if s, ok := o.store.(store.Store); ok {
		return s.Close()
	}
	return nil
}

// ── Internals ────────────────────────────────────────────────────────

// withRun loads the named run and executes fn through the middleware
// chain. The loaded run feeds the operation descriptor so middleware
// sees workflow and attempt context.
func (o *Orchestrator) withRun(ctx context.Context, name, projectID, runID string, fn func(context.Context, *run.Run) (*run.Run, error)) (*run.Run, error) {
	r, err := o.store.FindByProjectAndRunID(ctx, projectID, runID)
	if err != nil {
		return nil, err
	}
	op := &middleware.Op{
		Name:         name,
		RunID:        r.RunID,
		ProjectID:    r.ProjectID,
		WorkflowName: r.WorkflowName,
		Attempt:      r.RetryAttempt,
	}
	return o.exec(ctx, op, func(ctx context.Context) (*run.Run, error) {
		return fn(ctx, r)
	})
}

func (o *Orchestrator) exec(ctx context.Context, op *middleware.Op, fn func(context.Context) (*run.Run, error)) (*run.Run, error) {
	var out *run.Run
	err := o.chain(ctx, op, func(ctx context.Context) error {
		var innerErr error
		out, innerErr = fn(ctx)
		return innerErr
	})
	if err != nil {
		return out, err
	}
	return out, nil
}
