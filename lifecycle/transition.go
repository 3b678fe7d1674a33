package lifecycle

import (
	"strings"
	"time"

	"github.com/pcharbon70/loom/approval"
	"github.com/pcharbon70/loom/failure"
	"github.com/pcharbon70/loom/internal/mapval"
	"github.com/pcharbon70/loom/run"
)

// legal is the lifecycle transition table. Terminal statuses have no
// outgoing edges and are absent.
var legal = map[run.Status][]run.Status{
	run.StatusPending:          {run.StatusRunning, run.StatusCancelled},
	run.StatusRunning:          {run.StatusAwaitingApproval, run.StatusCompleted, run.StatusFailed, run.StatusCancelled},
	run.StatusAwaitingApproval: {run.StatusRunning, run.StatusCancelled},
}

// CanTransition reports whether (from, to) is a legal lifecycle edge.
func CanTransition(from, to run.Status) bool {
	for _, t := range legal[from] {
		if t == to {
			return true
		}
	}
	return false
}

// LegalTargets returns the statuses reachable from the given status.
// Terminal statuses return nil.
func LegalTargets(from run.Status) []run.Status {
	targets := legal[from]
	if len(targets) == 0 {
		return nil
	}
	return append([]run.Status(nil), targets...)
}

// TransitionArgs describes a requested status transition.
type TransitionArgs struct {
	// To is the target status.
	To run.Status
	// CurrentStep updates the run's step. Empty keeps the prior value.
	CurrentStep string
	// TransitionedAt stamps the transition. Zero means now.
	TransitionedAt time.Time
	// Metadata is recorded on the audit entry and drives side effects
	// (approval_decision, issue_response_post, failure sources).
	Metadata map[string]any
}

// buildTransition computes the post-transition run for an already
// validated edge. It works entirely on a clone: the caller's run is never
// touched, and the clone is only handed out once every side effect has
// been folded in, so a persisted record is always internally consistent.
//
// The returned decision string is the approval decision value recorded
// while leaving the gate, or "" when none was supplied.
func buildTransition(r *run.Run, args TransitionArgs, now time.Time) (*run.Run, string) {
	at := args.TransitionedAt
	if at.IsZero() {
		at = now
	}
	step := strings.TrimSpace(args.CurrentStep)
	if step == "" {
		step = r.Step()
	}

	next := r.Clone()
	next.StatusTransitions = append(next.StatusTransitions, run.TransitionRecord{
		From:           r.Status,
		To:             args.To,
		CurrentStep:    step,
		TransitionedAt: at,
		Metadata:       args.Metadata,
	})
	next.Status = args.To
	next.CurrentStep = step
	next.Touch()

	if args.To == run.StatusRunning && next.StartedAt.IsZero() {
		next.StartedAt = at
	}
	if args.To.Terminal() {
		t := at
		next.CompletedAt = &t
	} else {
		next.CompletedAt = nil
	}

	if next.StepResults == nil {
		next.StepResults = map[string]any{}
	}

	if args.To == run.StatusAwaitingApproval {
		ctx, diag := approval.Build(next.StepResults, at)
		if diag != nil {
			next.StepResults[run.KeyApprovalContextDiagnostic] = diag.AsMap()
		} else {
			next.StepResults[run.KeyApprovalContext] = ctx.AsMap()
			delete(next.StepResults, run.KeyApprovalContextDiagnostic)
		}
	}

	decision := ""
	if r.Status == run.StatusAwaitingApproval {
		if d := mapval.Map(args.Metadata, run.KeyApprovalDecision); d != nil {
			history, _ := next.StepResults[run.KeyApprovalDecisions].([]any)
			history = append(history, d)
			next.StepResults[run.KeyApprovalDecisions] = history
			next.StepResults[run.KeyApprovalDecision] = d
			decision = mapval.String(d, "decision")
		}
	}

	if post := mapval.Map(args.Metadata, run.KeyIssueResponsePost); post != nil {
		next.StepResults[run.KeyIssueResponsePost] = post
	}

	if args.To == run.StatusFailed {
		next.Error = failure.Resolve(failure.Input{
			TransitionMetadata: args.Metadata,
			StepResults:        next.StepResults,
			Prior:              r.Error,
			Transitions:        next.StatusTransitions,
			CurrentStep:        step,
			Now:                at,
		})
	}

	return next, decision
}
