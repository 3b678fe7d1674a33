// Package triage implements the issue-triage posting workflow layered on
// the lifecycle engine: a triage run composes a response to a GitHub
// issue, which is either posted directly (auto_post) or parked at the
// approval gate until a human approves it.
//
// The poster is an injected collaborator. Its failures, panics included,
// are isolated and normalized into typed provider failures; they fail the
// run, never the process.
package triage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pcharbon70/loom"
	"github.com/pcharbon70/loom/approval"
	"github.com/pcharbon70/loom/internal/mapval"
	"github.com/pcharbon70/loom/lifecycle"
	"github.com/pcharbon70/loom/run"
	"github.com/pcharbon70/loom/trigger"
)

// WorkflowName is the only workflow this package applies to.
const WorkflowName = "issue_triage"

// AutoApprovalActorID is the synthesized actor recorded when auto_post
// skips the human gate.
const AutoApprovalActorID = "loom-auto-approval"

// Step names of the posting workflow.
const (
	StepRequestApproval = "request_approval"
	StepApprovalGate    = "approval_gate"
	StepPostComment     = "post_github_comment"
)

// PostRequest is the resolved payload handed to the poster.
type PostRequest struct {
	RepoFullName string `json:"repo_full_name"`
	IssueNumber  int    `json:"issue_number"`
	Body         string `json:"body"`
}

// PostResult is what a successful post minimally reports back.
type PostResult struct {
	Provider   string    `json:"provider"`
	CommentURL string    `json:"comment_url"`
	CommentID  string    `json:"comment_id,omitempty"`
	PostedAt   time.Time `json:"posted_at"`
}

// IssuePoster posts a comment on an issue. Implementations live outside
// this module; fakes ship for tests.
type IssuePoster interface {
	Post(ctx context.Context, req PostRequest) (*PostResult, error)
}

// Workflow drives issue-triage runs through composing, approval, and
// posting.
type Workflow struct {
	engine *lifecycle.Engine
	poster IssuePoster
	logger *slog.Logger
	clock  func() time.Time
}

// NewWorkflow creates the posting workflow over a lifecycle engine and a
// poster.
func NewWorkflow(engine *lifecycle.Engine, poster IssuePoster, logger *slog.Logger, clock func() time.Time) *Workflow {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = time.Now
	}
	return &Workflow{engine: engine, poster: poster, logger: logger, clock: clock}
}

// Advance moves a triage run past the compose step. Under auto_post it
// synthesizes an approval decision and posts immediately; under
// approval_required it parks the run at the approval gate.
func (w *Workflow) Advance(ctx context.Context, r *run.Run) (*run.Run, error) {
	const op = "advance_issue_triage_run"

	if r.WorkflowName != WorkflowName {
		return nil, loom.NewValidationError(op, loom.ReasonInvalidRunStatus,
			fmt.Sprintf("workflow is %q, advance applies to %s only", r.WorkflowName, WorkflowName))
	}

	if trigger.ResolvePostingMode(r.Trigger) == trigger.PostAuto {
		decision := approval.Decision{
			Decision:  approval.DecisionApproved,
			Actor:     run.Actor{ID: AutoApprovalActorID},
			DecidedAt: w.clock().UTC(),
		}
		return w.Finalize(ctx, r, decision)
	}

	running, err := w.engine.TransitionStatus(ctx, r, lifecycle.TransitionArgs{
		To:          run.StatusRunning,
		CurrentStep: StepRequestApproval,
	})
	if err != nil {
		return nil, err
	}
	return w.engine.TransitionStatus(ctx, running, lifecycle.TransitionArgs{
		To:          run.StatusAwaitingApproval,
		CurrentStep: StepApprovalGate,
	})
}

// Approve records a human approval on a gated triage run and posts the
// composed response. The same approval_context_blocked precondition as
// the generic approve operation applies.
func (w *Workflow) Approve(ctx context.Context, r *run.Run, params lifecycle.ApproveParams) (*run.Run, error) {
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
		DecidedAt: w.clock().UTC(),
	}
	return w.Finalize(ctx, r, decision)
}

// Finalize posts the composed response and completes the run. It is the
// shared tail of the auto path and the human approval path: the caller
// supplies the decision that unlocked posting.
//
// The run first transitions to running at the posting step, carrying the
// decision. An unresolvable post request fails the run without calling
// the poster. Poster failures are normalized into auth_error or
// provider_error and fail the run with a status "failed" artifact.
func (w *Workflow) Finalize(ctx context.Context, r *run.Run, decision approval.Decision) (*run.Run, error) {
	const op = "finalize_issue_response_post"

	posting, err := w.engine.TransitionStatus(ctx, r, lifecycle.TransitionArgs{
		To:          run.StatusRunning,
		CurrentStep: StepPostComment,
		Metadata:    map[string]any{run.KeyApprovalDecision: decision.AsMap()},
	})
	if err != nil {
		return nil, err
	}

	req, missing := ResolvePostRequest(posting)
	if len(missing) > 0 {
		oe := loom.NewValidationError(op, loom.ReasonPostRequestInvalid,
			fmt.Sprintf("cannot resolve post request, missing %s", strings.Join(missing, ", ")))
		oe.FieldErrors = map[string]string{}
		for _, f := range missing {
			oe.FieldErrors[f] = "could not be resolved"
		}
		failed, ferr := w.failRun(ctx, posting, loom.ReasonPostRequestInvalid, oe.Detail, nil)
		if ferr != nil {
			return nil, ferr
		}
		return failed, oe
	}

	result, perr := w.safePost(ctx, req)
	if perr != nil {
		reason := classifyPostFailure(perr)
		detail := perr.Error()
		failed, ferr := w.failRun(ctx, posting, reason, detail, &req)
		if ferr != nil {
			return nil, ferr
		}
		return failed, loom.NewProviderError(op, reason, detail).WithCause(perr)
	}

	artifact := map[string]any{
		"status":         "posted",
		"provider":       result.Provider,
		"comment_url":    result.CommentURL,
		"posted_at":      result.PostedAt,
		"repo_full_name": req.RepoFullName,
		"issue_number":   req.IssueNumber,
	}
	if result.CommentID != "" {
		artifact["comment_id"] = result.CommentID
	}

	w.logger.Info("issue response posted",
		slog.String("run_id", posting.RunID),
		slog.String("repo", req.RepoFullName),
		slog.Int("issue", req.IssueNumber))

	return w.engine.TransitionStatus(ctx, posting, lifecycle.TransitionArgs{
		To:       run.StatusCompleted,
		Metadata: map[string]any{run.KeyIssueResponsePost: artifact},
	})
}

// failRun transitions the run to failed with the posting failure as both
// the failure context and a status "failed" artifact.
func (w *Workflow) failRun(ctx context.Context, r *run.Run, reason, detail string, req *PostRequest) (*run.Run, error) {
	artifact := map[string]any{
		"status":      "failed",
		"reason_type": reason,
		"detail":      detail,
	}
	if req != nil {
		artifact["repo_full_name"] = req.RepoFullName
		artifact["issue_number"] = req.IssueNumber
	}

	return w.engine.TransitionStatus(ctx, r, lifecycle.TransitionArgs{
		To: run.StatusFailed,
		Metadata: map[string]any{
			run.KeyFailureContext: map[string]any{
				"error_type":  "issue_response_post_failed",
				"reason_type": reason,
				"detail":      detail,
				"failed_step": StepPostComment,
				"remediation": "inspect the posting provider error and retry the run",
			},
			run.KeyIssueResponsePost: artifact,
		},
	})
}

// safePost invokes the poster, converting panics and nil results into
// errors so provider misbehavior cannot unwind the workflow.
func (w *Workflow) safePost(ctx context.Context, req PostRequest) (result *PostResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("triage: poster panic: %v", r)
		}
	}()

	if w.poster == nil {
		return nil, fmt.Errorf("triage: no poster configured")
	}
	result, err = w.poster.Post(ctx, req)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("triage: poster returned no result")
	}
	return result, nil
}

var authFailurePattern = []string{
	"auth", "unauthorized", "forbidden", "credential", "token", "401", "403",
}

// classifyPostFailure maps a provider error onto auth_error or
// provider_error by inspecting the reported reason.
func classifyPostFailure(err error) string {
	msg := strings.ToLower(err.Error())
	for _, p := range authFailurePattern {
		if strings.Contains(msg, p) {
			return loom.ReasonAuthError
		}
	}
	return loom.ReasonProviderError
}

// ResolvePostRequest assembles the post request from the run. The body
// comes from step_results.compose_issue_response.proposed_response. The
// repo and issue number come from trigger.source_row and
// trigger.source_issue, falling back to parsing inputs.issue_reference as
// "owner/repo#123" or a GitHub issue URL. The second return lists the
// fields that could not be resolved; posting proceeds only when it is
// empty.
func ResolvePostRequest(r *run.Run) (PostRequest, []string) {
	req := PostRequest{}

	if compose := mapval.Map(r.StepResults, run.KeyComposeIssueResponse); compose != nil {
		req.Body = mapval.FirstString(compose, "proposed_response", "response", "body")
	}

	if row := mapval.Map(r.Trigger, "source_row"); row != nil {
		req.RepoFullName = mapval.String(row, "project_github_full_name")
	}
	if issue := mapval.Map(r.Trigger, "source_issue"); issue != nil {
		if n, ok := mapval.Int(issue, "number"); ok && n > 0 {
			req.IssueNumber = n
		}
	}

	if req.RepoFullName == "" || req.IssueNumber == 0 {
		if ref, ok := ParseIssueRef(mapval.String(r.Inputs, "issue_reference")); ok {
			if req.RepoFullName == "" {
				req.RepoFullName = ref.RepoFullName
			}
			if req.IssueNumber == 0 {
				req.IssueNumber = ref.IssueNumber
			}
		}
	}

	var missing []string
	if req.RepoFullName == "" {
		missing = append(missing, "repo_full_name")
	}
	if req.IssueNumber == 0 {
		missing = append(missing, "issue_number")
	}
	if req.Body == "" {
		missing = append(missing, "body")
	}
	return req, missing
}
