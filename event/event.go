// Package event turns committed lifecycle transitions into named events
// and hands them to an external publisher. Publication is strictly
// best-effort: a publisher error or panic never fails the transition
// that triggered it; failures come back as diagnostics the caller
// records on the run.
package event

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pcharbon70/loom/run"
)

// Lifecycle event names.
const (
	RunStarted        = "run_started"
	StepStarted       = "step_started"
	StepCompleted     = "step_completed"
	StepFailed        = "step_failed"
	RunCompleted      = "run_completed"
	RunFailed         = "run_failed"
	RunCancelled      = "run_cancelled"
	ApprovalRequested = "approval_requested"
	ApprovalGranted   = "approval_granted"
	ApprovalRejected  = "approval_rejected"
)

// Payload is the wire-agnostic event body handed to the publisher.
type Payload struct {
	Event           string `json:"event"`
	RunID           string `json:"run_id"`
	WorkflowName    string `json:"workflow_name"`
	WorkflowVersion int    `json:"workflow_version"`
	Timestamp       string `json:"timestamp"`
	CorrelationID   string `json:"correlation_id"`
	FromStatus      string `json:"from_status"`
	ToStatus        string `json:"to_status"`
	CurrentStep     string `json:"current_step"`
}

// Publisher delivers a lifecycle event to the outside world.
type Publisher interface {
	Publish(ctx context.Context, runID string, payload Payload) error
}

// Adapter maps committed transitions onto lifecycle events and publishes
// them through the configured Publisher. A nil Publisher disables
// publication entirely.
type Adapter struct {
	publisher Publisher
}

// NewAdapter creates an adapter over the given publisher.
func NewAdapter(p Publisher) *Adapter {
	return &Adapter{publisher: p}
}

// EventsFor returns the event names a committed (from, to) transition
// produces, in publication order. Approval outcome events precede the
// generic status event so subscribers see the decision before the
// resulting state.
func EventsFor(from, to run.Status, approvalDecision string) []string {
	var events []string

	if from == run.StatusAwaitingApproval {
		switch approvalDecision {
		case "approved":
			events = append(events, ApprovalGranted)
		case "rejected":
			events = append(events, ApprovalRejected)
		}
	}

	switch to {
	case run.StatusRunning:
		events = append(events, StepStarted)
	case run.StatusAwaitingApproval:
		events = append(events, ApprovalRequested)
	case run.StatusCompleted:
		events = append(events, StepCompleted, RunCompleted)
	case run.StatusFailed:
		events = append(events, StepFailed, RunFailed)
	case run.StatusCancelled:
		events = append(events, RunCancelled)
	}

	return events
}

// PublishTransition publishes the events for a committed transition on r.
// Every event shares one correlation id. Errors and panics are captured
// as diagnostics; publication never fails the caller.
func (a *Adapter) PublishTransition(ctx context.Context, r *run.Run, from, to run.Status, approvalDecision string, at time.Time) []run.EventDiagnostic {
	names := EventsFor(from, to, approvalDecision)
	return a.publish(ctx, r, string(from), string(to), names, at)
}

// PublishCreated publishes the run_started event for a freshly created
// pending run.
func (a *Adapter) PublishCreated(ctx context.Context, r *run.Run, at time.Time) []run.EventDiagnostic {
	return a.publish(ctx, r, "", string(run.StatusPending), []string{RunStarted}, at)
}

func (a *Adapter) publish(ctx context.Context, r *run.Run, from, to string, names []string, at time.Time) []run.EventDiagnostic {
	if a == nil || a.publisher == nil || len(names) == 0 {
		return nil
	}

	correlationID := uuid.NewString()
	var diags []run.EventDiagnostic

	for _, name := range names {
		payload := Payload{
			Event:           name,
			RunID:           r.RunID,
			WorkflowName:    r.WorkflowName,
			WorkflowVersion: r.WorkflowVersion,
			Timestamp:       at.UTC().Format(time.RFC3339),
			CorrelationID:   correlationID,
			FromStatus:      from,
			ToStatus:        to,
			CurrentStep:     r.Step(),
		}
		if err := a.safePublish(ctx, r.RunID, payload); err != nil {
			diags = append(diags, run.EventDiagnostic{
				Event:      name,
				Reason:     err.Error(),
				OccurredAt: at,
			})
		}
	}

	return diags
}

// safePublish converts publisher panics into errors so a misbehaving
// transport cannot unwind a committed transition.
func (a *Adapter) safePublish(ctx context.Context, runID string, payload Payload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("event: publisher panic: %v", r)
		}
	}()
	return a.publisher.Publish(ctx, runID, payload)
}

// ── Memory publisher ─────────────────────────────────────────────────

// MemoryPublisher collects published events in memory. Intended for
// development and tests.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Payload
}

// NewMemoryPublisher creates an empty in-memory publisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// Publish records the payload.
func (m *MemoryPublisher) Publish(_ context.Context, _ string, payload Payload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, payload)
	return nil
}

// Published returns a copy of everything published so far.
func (m *MemoryPublisher) Published() []Payload {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Payload, len(m.events))
	copy(out, m.events)
	return out
}
