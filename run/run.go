package run

import (
	"time"

	"github.com/pcharbon70/loom"
	"github.com/pcharbon70/loom/id"
)

// Status represents the lifecycle status of a workflow run.
type Status string

const (
	// StatusPending means the run is created but not yet executing.
	StatusPending Status = "pending"
	// StatusRunning means the run is currently executing a step.
	StatusRunning Status = "running"
	// StatusAwaitingApproval means the run is blocked on a human decision.
	StatusAwaitingApproval Status = "awaiting_approval"
	// StatusCompleted means the run finished successfully.
	StatusCompleted Status = "completed"
	// StatusFailed means the run failed terminally.
	StatusFailed Status = "failed"
	// StatusCancelled means the run was explicitly cancelled.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status has no outgoing transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Valid reports whether s is one of the six lifecycle statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusAwaitingApproval,
		StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// DefaultStep is the current_step value for runs that have not reported one.
const DefaultStep = "unknown"

// Well-known step_results keys shared across the lifecycle engine,
// the approval builder, and the issue-triage workflow.
const (
	KeyApprovalContext           = "approval_context"
	KeyApprovalContextError      = "approval_context_generation_error"
	KeyApprovalContextDiagnostic = "approval_context_diagnostic"
	KeyApprovalDecision          = "approval_decision"
	KeyApprovalDecisions         = "approval_decisions"
	KeyIssueResponsePost         = "issue_response_post"
	KeyEventDiagnostics          = "event_channel_diagnostics"
	KeyComposeIssueResponse      = "compose_issue_response"
	KeyFailureContext            = "failure_context"
	KeyFailureReport             = "failure_report"
	KeyRetryContext              = "retry_context"
)

// Actor identifies who initiated an operation.
type Actor struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

// UnknownActorID marks an actor whose identity could not be resolved.
const UnknownActorID = "unknown"

// Unresolved reports whether the actor identity is missing or unknown.
func (a Actor) Unresolved() bool {
	return a.ID == "" || a.ID == UnknownActorID
}

// TransitionRecord is one entry of the append-only status audit trail.
// The last record's To always equals the run's current Status.
type TransitionRecord struct {
	From           Status         `json:"from_status"`
	To             Status         `json:"to_status"`
	CurrentStep    string         `json:"current_step"`
	TransitionedAt time.Time      `json:"transitioned_at"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// LineageEntry is a snapshot of an ancestor run, preserved across retries
// for audit and debugging. Lineage is ordered oldest first; entry zero is
// the root of the retry chain.
type LineageEntry struct {
	RunID            string         `json:"run_id"`
	Status           Status         `json:"status"`
	RetryAttempt     int            `json:"retry_attempt"`
	CurrentStep      string         `json:"current_step"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	FailureArtifacts map[string]any `json:"failure_artifacts,omitempty"`
	TypedFailure     *Failure       `json:"typed_failure,omitempty"`
	RetryActor       Actor          `json:"retry_actor"`
	RetriedAt        time.Time      `json:"retried_at"`
}

// Run is one execution instance of a workflow, tracked as a single evolving
// record through a finite set of statuses.
type Run struct {
	loom.Entity

	// ID is the durable surrogate key.
	ID id.RunID `json:"id"`
	// RunID is the human-facing identifier, unique within ProjectID.
	RunID     string `json:"run_id"`
	ProjectID string `json:"project_id"`

	// WorkflowName and WorkflowVersion reference the definition. The version
	// is pinned at creation and never changes, even if the definition is
	// later updated.
	WorkflowName    string `json:"workflow_name"`
	WorkflowVersion int    `json:"workflow_version"`

	Status      Status `json:"status"`
	CurrentStep string `json:"current_step"`
	// StatusTransitions is the append-only status audit trail.
	StatusTransitions []TransitionRecord `json:"status_transitions"`

	// Trigger carries mode, approval_policy, retry_policy, and retry
	// metadata once retried. Free-form: supplied by upstream agents.
	Trigger         map[string]any `json:"trigger,omitempty"`
	Inputs          map[string]any `json:"inputs,omitempty"`
	InputMetadata   map[string]any `json:"input_metadata,omitempty"`
	InitiatingActor Actor          `json:"initiating_actor"`
	// StepResults accumulates per-step outputs, approval context and
	// decision history, retry context, and issue-triage post artifacts.
	StepResults map[string]any `json:"step_results,omitempty"`

	// Error is the canonical failure record, set when entering failed.
	Error *Failure `json:"error,omitempty"`

	// Retry genealogy.
	RetryOfRunID string         `json:"retry_of_run_id,omitempty"`
	RetryAttempt int            `json:"retry_attempt"`
	RetryLineage []LineageEntry `json:"retry_lineage,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// LastTransition returns the most recent audit entry, or nil for a run
// that has no transitions recorded yet.
func (r *Run) LastTransition() *TransitionRecord {
	if len(r.StatusTransitions) == 0 {
		return nil
	}
	return &r.StatusTransitions[len(r.StatusTransitions)-1]
}

// Step returns the run's current step, falling back to DefaultStep.
func (r *Run) Step() string {
	if r.CurrentStep == "" {
		return DefaultStep
	}
	return r.CurrentStep
}

// Clone returns a deep copy of the run. Stores hand out clones so callers
// can mutate freely without racing against the stored record.
func (r *Run) Clone() *Run {
	cp := *r

	cp.StatusTransitions = make([]TransitionRecord, len(r.StatusTransitions))
	copy(cp.StatusTransitions, r.StatusTransitions)
	for i := range cp.StatusTransitions {
		cp.StatusTransitions[i].Metadata = cloneMap(r.StatusTransitions[i].Metadata)
	}

	cp.Trigger = cloneMap(r.Trigger)
	cp.Inputs = cloneMap(r.Inputs)
	cp.InputMetadata = cloneMap(r.InputMetadata)
	cp.StepResults = cloneMap(r.StepResults)

	if r.Error != nil {
		e := r.Error.Clone()
		cp.Error = e
	}

	cp.RetryLineage = make([]LineageEntry, len(r.RetryLineage))
	copy(cp.RetryLineage, r.RetryLineage)
	for i := range cp.RetryLineage {
		cp.RetryLineage[i].FailureArtifacts = cloneMap(r.RetryLineage[i].FailureArtifacts)
		if r.RetryLineage[i].TypedFailure != nil {
			cp.RetryLineage[i].TypedFailure = r.RetryLineage[i].TypedFailure.Clone()
		}
	}

	if r.CompletedAt != nil {
		t := *r.CompletedAt
		cp.CompletedAt = &t
	}

	return &cp
}

// cloneMap deep-copies a free-form map. Nested maps and slices are copied;
// scalar values are shared (they are immutable once stored).
func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = cloneValue(v)
	}
	return cp
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		cp := make([]any, len(t))
		for i, e := range t {
			cp[i] = cloneValue(e)
		}
		return cp
	default:
		return v
	}
}
