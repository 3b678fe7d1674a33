// Package lifecycle implements the workflow-run state machine: the legal
// transition table, the transition side effects, and the public run
// operations (create, transition, approve, reject, retry, retry_step).
//
// Operations never mutate the run they are given. Each one computes a new
// record from a deep copy, persists it through the store, then publishes
// lifecycle events. Event publication is post-commit and non-fatal:
// failures are recorded on the run as diagnostics, never rolled back into
// the transition.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pcharbon70/loom"
	"github.com/pcharbon70/loom/approval"
	"github.com/pcharbon70/loom/event"
	"github.com/pcharbon70/loom/id"
	"github.com/pcharbon70/loom/retry"
	"github.com/pcharbon70/loom/run"
	"github.com/pcharbon70/loom/trigger"
)

// Engine drives runs through their lifecycle against a store and an event
// publisher. All collaborators are injected; the zero clock means
// time.Now.
type Engine struct {
	store  run.Store
	events *event.Adapter
	logger *slog.Logger
	clock  func() time.Time
}

// NewEngine creates a lifecycle engine. The store is required; events may
// be nil to disable publication.
func NewEngine(store run.Store, events *event.Adapter, logger *slog.Logger, clock func() time.Time) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = time.Now
	}
	return &Engine{store: store, events: events, logger: logger, clock: clock}
}

// CreateAttrs are the attributes of a new run.
type CreateAttrs struct {
	RunID           string
	ProjectID       string
	WorkflowName    string
	WorkflowVersion int
	CurrentStep     string
	Trigger         map[string]any
	Inputs          map[string]any
	InputMetadata   map[string]any
	InitiatingActor run.Actor
}

// Create persists a new pending run with a synthetic pending audit entry
// and publishes run_started.
func (e *Engine) Create(ctx context.Context, attrs CreateAttrs) (*run.Run, error) {
	const op = "create"

	fieldErrors := map[string]string{}
	if attrs.RunID == "" {
		fieldErrors["run_id"] = "is required"
	}
	if attrs.ProjectID == "" {
		fieldErrors["project_id"] = "is required"
	}
	if attrs.WorkflowName == "" {
		fieldErrors["workflow_name"] = "is required"
	}
	if len(fieldErrors) > 0 {
		oe := loom.NewValidationError(op, loom.ReasonRunCreationFailed, "missing required attributes")
		oe.FieldErrors = fieldErrors
		return nil, oe
	}

	at := e.clock().UTC()
	step := attrs.CurrentStep
	if step == "" {
		step = run.DefaultStep
	}

	r := &run.Run{
		Entity:          loom.NewEntity(),
		ID:              id.NewRunID(),
		RunID:           attrs.RunID,
		ProjectID:       attrs.ProjectID,
		WorkflowName:    attrs.WorkflowName,
		WorkflowVersion: attrs.WorkflowVersion,
		Status:          run.StatusPending,
		CurrentStep:     step,
		StatusTransitions: []run.TransitionRecord{{
			From:           run.StatusPending,
			To:             run.StatusPending,
			CurrentStep:    step,
			TransitionedAt: at,
		}},
		Trigger:         attrs.Trigger,
		Inputs:          attrs.Inputs,
		InputMetadata:   attrs.InputMetadata,
		InitiatingActor: attrs.InitiatingActor,
		StepResults:     map[string]any{},
		RetryAttempt:    1,
		StartedAt:       at,
	}

	if err := e.store.Create(ctx, r); err != nil {
		return nil, loom.NewExecutionError(op, loom.ReasonRunCreationFailed,
			fmt.Sprintf("creating run %q: %v", attrs.RunID, err)).WithCause(err)
	}

	e.recordDiagnostics(ctx, r, e.events.PublishCreated(ctx, r, at))
	return r, nil
}

// TransitionStatus validates and applies a status transition, returning
// the new run record. The given run is not mutated. Illegal edges fail
// with invalid_lifecycle_transition and leave nothing changed.
func (e *Engine) TransitionStatus(ctx context.Context, r *run.Run, args TransitionArgs) (*run.Run, error) {
	return e.transition(ctx, "transition_status", r, args)
}

func (e *Engine) transition(ctx context.Context, op string, r *run.Run, args TransitionArgs) (*run.Run, error) {
	if !args.To.Valid() {
		return nil, loom.NewValidationError(op, loom.ReasonInvalidRunStatus,
			fmt.Sprintf("unknown target status %q", args.To))
	}
	if !CanTransition(r.Status, args.To) {
		return nil, loom.NewExecutionError(op, loom.ReasonInvalidTransition,
			fmt.Sprintf("%s -> %s is not a legal transition", r.Status, args.To)).
			WithCause(loom.ErrInvalidTransition)
	}

	next, decision := buildTransition(r, args, e.clock().UTC())

	if err := e.store.Update(ctx, next); err != nil {
		return nil, loom.NewExecutionError(op, loom.ReasonPersistenceFailed,
			fmt.Sprintf("persisting run %q: %v", r.RunID, err)).WithCause(err)
	}

	e.logger.Debug("run transitioned",
		slog.String("run_id", next.RunID),
		slog.String("from", string(r.Status)),
		slog.String("to", string(next.Status)),
		slog.String("step", next.Step()))

	at := next.LastTransition().TransitionedAt
	e.recordDiagnostics(ctx, next, e.events.PublishTransition(ctx, next, r.Status, next.Status, decision, at))
	return next, nil
}

// ApproveParams carry the human decision for Approve and Reject.
type ApproveParams struct {
	Actor   run.Actor
	Comment string
}

// Approve resumes an awaiting_approval run. It fails with
// approval_context_blocked when the stored approval context is empty or a
// generation diagnostic is recorded.
func (e *Engine) Approve(ctx context.Context, r *run.Run, params ApproveParams) (*run.Run, error) {
	const op = "approve"

	if r.Status != run.StatusAwaitingApproval {
		return nil, loom.NewValidationError(op, loom.ReasonInvalidRunStatus,
			fmt.Sprintf("run is %s, approve requires awaiting_approval", r.Status))
	}
	if approval.Blocked(r.StepResults) {
		return nil, loom.NewValidationError(op, loom.ReasonApprovalContextBlocked,
			"approval context is empty or its generation failed").
			WithRemediation("regenerate the approval context before approving")
	}

	decision := approval.Decision{
		Decision:  approval.DecisionApproved,
		Actor:     params.Actor,
		Comment:   params.Comment,
		DecidedAt: e.clock().UTC(),
	}
	return e.transition(ctx, op, r, TransitionArgs{
		To:       run.StatusRunning,
		Metadata: map[string]any{run.KeyApprovalDecision: decision.AsMap()},
	})
}

// Reject cancels an awaiting_approval run, recording the rejection.
func (e *Engine) Reject(ctx context.Context, r *run.Run, params ApproveParams) (*run.Run, error) {
	const op = "reject"

	if r.Status != run.StatusAwaitingApproval {
		return nil, loom.NewValidationError(op, loom.ReasonInvalidRunStatus,
			fmt.Sprintf("run is %s, reject requires awaiting_approval", r.Status))
	}

	decision := approval.Decision{
		Decision:  approval.DecisionRejected,
		Actor:     params.Actor,
		Comment:   params.Comment,
		DecidedAt: e.clock().UTC(),
	}
	return e.transition(ctx, op, r, TransitionArgs{
		To:       run.StatusCancelled,
		Metadata: map[string]any{run.KeyApprovalDecision: decision.AsMap()},
	})
}

// RetryParams carry the actor initiating a retry.
type RetryParams struct {
	Actor run.Actor
}

// Retry creates a new pending run retrying the full workflow. The source
// run must be failed or cancelled and the policy must allow full-run
// retry. The source run is never mutated.
func (e *Engine) Retry(ctx context.Context, r *run.Run, params RetryParams) (*run.Run, error) {
	const op = "retry"

	if err := requireRetryable(op, r); err != nil {
		return nil, err
	}

	p := trigger.ResolveRetryPolicy(r.Trigger)
	if !p.FullRunAllowed {
		oe := loom.NewValidationError(op, loom.ReasonPolicyViolation,
			"retry policy does not allow retrying the full run")
		oe.Policy = p.AsMap()
		return nil, oe
	}

	return e.createRetry(ctx, op, r, p, retry.PolicyFullRun, retry.QueuedStep, params.Actor)
}

// RetryStepParams carry the target step and actor for a step-level retry.
type RetryStepParams struct {
	Step  string
	Actor run.Actor
}

// RetryStep creates a new pending run retrying from a single step. The
// target step resolves from the params, then the policy's configured
// default, then the first allowed step. It fails with policy_invalid when
// no step resolves and policy_violation when the resolved step is outside
// a non-empty allowed list.
func (e *Engine) RetryStep(ctx context.Context, r *run.Run, params RetryStepParams) (*run.Run, error) {
	const op = "retry_step"

	if err := requireRetryable(op, r); err != nil {
		return nil, err
	}

	p := trigger.ResolveRetryPolicy(r.Trigger)
	if !p.StepRetryDeclared {
		oe := loom.NewValidationError(op, loom.ReasonPolicyInvalid,
			"retry policy declares no step-level retry")
		oe.Policy = p.AsMap()
		return nil, oe
	}

	step := params.Step
	if step == "" {
		step = p.DefaultStep
	}
	if step == "" && len(p.AllowedSteps) > 0 {
		step = p.AllowedSteps[0]
	}
	if step == "" {
		oe := loom.NewValidationError(op, loom.ReasonPolicyInvalid,
			"no retry step could be resolved from params or policy")
		oe.Policy = p.AsMap()
		return nil, oe
	}
	if !p.StepAllowed(step) {
		oe := loom.NewValidationError(op, loom.ReasonPolicyViolation,
			fmt.Sprintf("step %q is not in the policy's allowed steps", step))
		oe.Policy = p.AsMap()
		return nil, oe
	}

	return e.createRetry(ctx, op, r, p, retry.PolicyStepLevel, step, params.Actor)
}

// StepRetryContract is the resolved step-retry declaration of a run's
// policy, exposed for callers deciding whether to offer step retry.
type StepRetryContract struct {
	Declared       bool     `json:"declared"`
	DefaultStep    string   `json:"default_step,omitempty"`
	AllowedSteps   []string `json:"allowed_steps,omitempty"`
	FullRunAllowed bool     `json:"full_run_allowed"`
	Source         string   `json:"source"`
}

// StepRetryContract resolves the run's step-retry declaration.
func (e *Engine) StepRetryContract(r *run.Run) StepRetryContract {
	p := trigger.ResolveRetryPolicy(r.Trigger)
	return StepRetryContract{
		Declared:       p.StepRetryDeclared,
		DefaultStep:    p.DefaultStep,
		AllowedSteps:   append([]string(nil), p.AllowedSteps...),
		FullRunAllowed: p.FullRunAllowed,
		Source:         p.Source,
	}
}

func requireRetryable(op string, r *run.Run) error {
	if r.Status == run.StatusFailed || r.Status == run.StatusCancelled {
		return nil
	}
	return loom.NewValidationError(op, loom.ReasonInvalidRunStatus,
		fmt.Sprintf("run is %s, retry requires failed or cancelled", r.Status))
}

func (e *Engine) createRetry(ctx context.Context, op string, r *run.Run, p trigger.RetryPolicy, policy, step string, actor run.Actor) (*run.Run, error) {
	at := e.clock().UTC()
	attempt := retry.NextAttempt(r)

	plan := retry.Plan{
		Policy:        policy,
		Step:          step,
		Attempt:       attempt,
		RunID:         retry.NextRunID(ctx, e.store, r, attempt),
		Actor:         actor,
		At:            at,
		NextAttemptAt: retry.NextAttemptAt(p, attempt, at),
		Lineage:       retry.BuildLineage(r, actor, at),
	}
	newRun := retry.BuildRun(r, plan)

	if err := e.store.Create(ctx, newRun); err != nil {
		return nil, loom.NewExecutionError(op, loom.ReasonRunCreationFailed,
			fmt.Sprintf("creating retry run %q: %v", plan.RunID, err)).WithCause(err)
	}

	e.logger.Info("run retried",
		slog.String("source_run_id", r.RunID),
		slog.String("run_id", newRun.RunID),
		slog.Int("attempt", attempt),
		slog.String("policy", policy))

	e.recordDiagnostics(ctx, newRun, e.events.PublishCreated(ctx, newRun, at))
	return newRun, nil
}

// recordDiagnostics stores event publication failures on the run: into
// the failure record when one exists, otherwise into a dedicated
// step_results entry. The write is best-effort; a store error here only
// logs, the transition is already committed.
func (e *Engine) recordDiagnostics(ctx context.Context, r *run.Run, diags []run.EventDiagnostic) {
	if len(diags) == 0 {
		return
	}

	if r.Error != nil {
		r.Error.EventChannelDiagnostics = append(r.Error.EventChannelDiagnostics, diags...)
	} else {
		if r.StepResults == nil {
			r.StepResults = map[string]any{}
		}
		entries, _ := r.StepResults[run.KeyEventDiagnostics].([]any)
		for _, d := range diags {
			entries = append(entries, map[string]any{
				"event":       d.Event,
				"reason":      d.Reason,
				"occurred_at": d.OccurredAt,
			})
		}
		r.StepResults[run.KeyEventDiagnostics] = entries
	}

	if err := e.store.Update(ctx, r); err != nil {
		e.logger.Warn("storing event diagnostics failed",
			slog.String("run_id", r.RunID),
			slog.String("error", err.Error()))
	}
}
