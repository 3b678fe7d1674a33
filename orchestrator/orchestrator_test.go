package orchestrator_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pcharbon70/loom"
	"github.com/pcharbon70/loom/event"
	"github.com/pcharbon70/loom/lifecycle"
	"github.com/pcharbon70/loom/middleware"
	"github.com/pcharbon70/loom/orchestrator"
	"github.com/pcharbon70/loom/run"
	"github.com/pcharbon70/loom/store/memory"
	"github.com/pcharbon70/loom/triage"
)

var now = time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

type recordingPoster struct {
	req *triage.PostRequest
}

func (p *recordingPoster) Post(_ context.Context, req triage.PostRequest) (*triage.PostResult, error) {
	p.req = &req
	return &triage.PostResult{
		Provider:   "github",
		CommentURL: "https://github.com/acme/widgets/issues/42#issuecomment-1",
		PostedAt:   now,
	}, nil
}

type harness struct {
	orc   *orchestrator.Orchestrator
	store *memory.Store
	pub   *event.MemoryPublisher
}

func newHarness(t *testing.T, opts ...orchestrator.Option) *harness {
	t.Helper()
	st := memory.New()
	pub := event.NewMemoryPublisher()
	base := []orchestrator.Option{
		orchestrator.WithStore(st),
		orchestrator.WithPublisher(pub),
		orchestrator.WithClock(func() time.Time { return now }),
	}
	orc, err := orchestrator.New(append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &harness{orc: orc, store: st, pub: pub}
}

func (h *harness) create(t *testing.T, attrs lifecycle.CreateAttrs) *run.Run {
	t.Helper()
	if attrs.RunID == "" {
		attrs.RunID = "R1"
	}
	if attrs.ProjectID == "" {
		attrs.ProjectID = "proj-1"
	}
	if attrs.WorkflowName == "" {
		attrs.WorkflowName = "code_review"
	}
	r, err := h.orc.CreateRun(context.Background(), attrs)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	return r
}

func (h *harness) transition(t *testing.T, runID string, to run.Status, step string) *run.Run {
	t.Helper()
	r, err := h.orc.TransitionRun(context.Background(), "proj-1", runID, lifecycle.TransitionArgs{
		To:          to,
		CurrentStep: step,
	})
	if err != nil {
		t.Fatalf("transition %s to %s: %v", runID, to, err)
	}
	return r
}

func TestNewRequiresStore(t *testing.T) {
	_, err := orchestrator.New()
	if !errors.Is(err, loom.ErrNoStore) {
		t.Fatalf("expected ErrNoStore, got %v", err)
	}
}

func TestCreateAndGetRun(t *testing.T) {
	h := newHarness(t)
	created := h.create(t, lifecycle.CreateAttrs{})

	got, err := h.orc.GetRun(context.Background(), "proj-1", "R1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.ID != created.ID {
		t.Errorf("GetRun ID = %s, want %s", got.ID, created.ID)
	}
	if got.Status != run.StatusPending {
		t.Errorf("Status = %s, want pending", got.Status)
	}
}

func TestGetRunNotFound(t *testing.T) {
	h := newHarness(t)

	_, err := h.orc.GetRun(context.Background(), "proj-1", "nope")
	if !errors.Is(err, loom.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestListRuns(t *testing.T) {
	h := newHarness(t)
	h.create(t, lifecycle.CreateAttrs{RunID: "R1"})
	h.create(t, lifecycle.CreateAttrs{RunID: "R2"})
	h.create(t, lifecycle.CreateAttrs{RunID: "R3", ProjectID: "proj-2"})

	runs, err := h.orc.ListRuns(context.Background(), run.ListOpts{ProjectID: "proj-1"})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
}

func TestTransitionRunFullLifecycle(t *testing.T) {
	h := newHarness(t)
	h.create(t, lifecycle.CreateAttrs{})

	r := h.transition(t, "R1", run.StatusRunning, "analyze")
	if r.Status != run.StatusRunning {
		t.Fatalf("Status = %s, want running", r.Status)
	}

	r = h.transition(t, "R1", run.StatusCompleted, "")
	if r.CompletedAt == nil {
		t.Error("expected CompletedAt on terminal run")
	}

	events := h.pub.Published()
	last := events[len(events)-1]
	if last.Event != event.RunCompleted {
		t.Errorf("last event = %s, want %s", last.Event, event.RunCompleted)
	}
}

func TestTransitionRunIllegal(t *testing.T) {
	h := newHarness(t)
	h.create(t, lifecycle.CreateAttrs{})

	_, err := h.orc.TransitionRun(context.Background(), "proj-1", "R1", lifecycle.TransitionArgs{
		To: run.StatusCompleted,
	})
	if !errors.Is(err, loom.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestApproveAndRejectRun(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	actor := run.Actor{ID: "u1", Email: "reviewer@example.com"}

	for _, tc := range []struct {
		runID  string
		reject bool
		want   run.Status
	}{
		{runID: "R-approve", reject: false, want: run.StatusRunning},
		{runID: "R-reject", reject: true, want: run.StatusCancelled},
	} {
		h.create(t, lifecycle.CreateAttrs{RunID: tc.runID})
		h.transition(t, tc.runID, run.StatusRunning, "analyze")
		h.transition(t, tc.runID, run.StatusAwaitingApproval, "approval_gate")

		var (
			r   *run.Run
			err error
		)
		if tc.reject {
			r, err = h.orc.RejectRun(ctx, "proj-1", tc.runID, lifecycle.ApproveParams{Actor: actor})
		} else {
			r, err = h.orc.ApproveRun(ctx, "proj-1", tc.runID, lifecycle.ApproveParams{Actor: actor})
		}
		if err != nil {
			t.Fatalf("%s: %v", tc.runID, err)
		}
		if r.Status != tc.want {
			t.Errorf("%s: Status = %s, want %s", tc.runID, r.Status, tc.want)
		}
	}
}

func TestRetryRun(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.create(t, lifecycle.CreateAttrs{
		Trigger: map[string]any{
			"retry_policy": map[string]any{"full_run": true},
		},
	})
	h.transition(t, "R1", run.StatusRunning, "analyze")
	h.transition(t, "R1", run.StatusFailed, "analyze")

	r, err := h.orc.RetryRun(ctx, "proj-1", "R1", lifecycle.RetryParams{
		Actor: run.Actor{ID: "u1"},
	})
	if err != nil {
		t.Fatalf("RetryRun: %v", err)
	}
	if r.RunID != "R1-retry-2" {
		t.Errorf("RunID = %q, want R1-retry-2", r.RunID)
	}
	if r.RetryAttempt != 2 {
		t.Errorf("RetryAttempt = %d, want 2", r.RetryAttempt)
	}
	if r.Status != run.StatusPending {
		t.Errorf("Status = %s, want pending", r.Status)
	}
}

func TestRetryRunStep(t *testing.T) {
	h := newHarness(t)

	h.create(t, lifecycle.CreateAttrs{
		Trigger: map[string]any{
			"retry_policy": map[string]any{
				"step_retry_policy": map[string]any{
					"allowed_steps": []any{"test", "build"},
				},
			},
		},
	})
	h.transition(t, "R1", run.StatusRunning, "test")
	h.transition(t, "R1", run.StatusFailed, "test")

	r, err := h.orc.RetryRunStep(context.Background(), "proj-1", "R1", lifecycle.RetryStepParams{
		Step:  "build",
		Actor: run.Actor{ID: "u1"},
	})
	if err != nil {
		t.Fatalf("RetryRunStep: %v", err)
	}
	if r.CurrentStep != "build" {
		t.Errorf("CurrentStep = %q, want build", r.CurrentStep)
	}
}

func TestStepRetryContract(t *testing.T) {
	h := newHarness(t)

	h.create(t, lifecycle.CreateAttrs{
		Trigger: map[string]any{
			"retry_policy": map[string]any{
				"step_retry_policy": map[string]any{
					"allowed_steps": []any{"test", "build"},
				},
			},
		},
	})

	contract, err := h.orc.StepRetryContract(context.Background(), "proj-1", "R1")
	if err != nil {
		t.Fatalf("StepRetryContract: %v", err)
	}
	if !contract.Declared {
		t.Error("expected step retry declared")
	}
	if len(contract.AllowedSteps) != 2 || contract.AllowedSteps[0] != "test" {
		t.Errorf("AllowedSteps = %v, want [test build]", contract.AllowedSteps)
	}
}

func TestAdvanceTriageAutoPost(t *testing.T) {
	poster := &recordingPoster{}
	h := newHarness(t, orchestrator.WithPoster(poster))
	ctx := context.Background()

	h.create(t, lifecycle.CreateAttrs{
		RunID:        "T1",
		WorkflowName: triage.WorkflowName,
		Trigger: map[string]any{
			"approval_policy": map[string]any{"mode": "auto"},
			"source_row": map[string]any{
				"project_github_full_name": "acme/widgets",
			},
		},
		Inputs: map[string]any{"issue_reference": "acme/widgets#42"},
	})

	// Seed the composed response the posting step consumes.
	r, err := h.store.FindByProjectAndRunID(ctx, "proj-1", "T1")
	if err != nil {
		t.Fatalf("find run: %v", err)
	}
	r.StepResults["compose_issue_response"] = map[string]any{
		"proposed_response": "Thanks, triaged.",
	}
	if err := h.store.Update(ctx, r); err != nil {
		t.Fatalf("seed step results: %v", err)
	}

	got, err := h.orc.AdvanceTriage(ctx, "proj-1", "T1")
	if err != nil {
		t.Fatalf("AdvanceTriage: %v", err)
	}
	if got.Status != run.StatusCompleted {
		t.Fatalf("Status = %s, want completed", got.Status)
	}
	if poster.req == nil {
		t.Fatal("poster was not invoked")
	}
	if poster.req.RepoFullName != "acme/widgets" || poster.req.IssueNumber != 42 {
		t.Errorf("post request = %+v", poster.req)
	}
}

func TestWithMiddlewareWrapsOperations(t *testing.T) {
	var seen []string
	counting := func(ctx context.Context, op *middleware.Op, next middleware.Handler) error {
		seen = append(seen, op.Name)
		return next(ctx)
	}

	h := newHarness(t, orchestrator.WithMiddleware(counting))
	h.create(t, lifecycle.CreateAttrs{})
	h.transition(t, "R1", run.StatusRunning, "analyze")

	want := []string{"create_run", "transition_run_status"}
	if len(seen) != len(want) {
		t.Fatalf("middleware saw %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("seen[%d] = %q, want %q", i, seen[i], want[i])
		}
	}
}

func TestStoreLifecyclePassThrough(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.orc.Migrate(ctx); err != nil {
		t.Errorf("Migrate: %v", err)
	}
	if err := h.orc.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
	if err := h.orc.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
