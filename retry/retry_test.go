package retry_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pcharbon70/loom"
	"github.com/pcharbon70/loom/retry"
	"github.com/pcharbon70/loom/run"
	"github.com/pcharbon70/loom/trigger"
)

var now = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

// fakeLookup marks (project, run_id) pairs as occupied.
type fakeLookup struct {
	occupied map[string]bool
	probes   int
}

func (f *fakeLookup) FindByProjectAndRunID(_ context.Context, projectID, runID string) (*run.Run, error) {
	f.probes++
	if f.occupied[projectID+"/"+runID] {
		return &run.Run{ProjectID: projectID, RunID: runID}, nil
	}
	return nil, loom.ErrRunNotFound
}

func newFakeLookup(keys ...string) *fakeLookup {
	m := make(map[string]bool, len(keys))
	for _, k := range keys {
		m[k] = true
	}
	return &fakeLookup{occupied: m}
}

func TestNextAttempt(t *testing.T) {
	tests := []struct {
		name  string
		prior int
		want  int
	}{
		{"first retry", 1, 2},
		{"chained retry", 3, 4},
		{"zero treated as one", 0, 2},
		{"negative treated as one", -5, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &run.Run{RetryAttempt: tt.prior}
			if got := retry.NextAttempt(r); got != tt.want {
				t.Errorf("NextAttempt = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRootRunID(t *testing.T) {
	direct := &run.Run{RunID: "R1"}
	if got := retry.RootRunID(direct); got != "R1" {
		t.Errorf("RootRunID = %q, want %q", got, "R1")
	}

	descendant := &run.Run{
		RunID: "R1-retry-3",
		RetryLineage: []run.LineageEntry{
			{RunID: "R1"},
			{RunID: "R1-retry-2"},
		},
	}
	if got := retry.RootRunID(descendant); got != "R1" {
		t.Errorf("RootRunID = %q, want the chain root %q", got, "R1")
	}
}

func TestNextRunID_NoCollision(t *testing.T) {
	lookup := newFakeLookup()
	r := &run.Run{ProjectID: "p1", RunID: "R1"}

	got := retry.NextRunID(context.Background(), lookup, r, 2)
	if got != "R1-retry-2" {
		t.Errorf("NextRunID = %q, want %q", got, "R1-retry-2")
	}
	if lookup.probes != 1 {
		t.Errorf("probes = %d, want 1", lookup.probes)
	}
}

func TestNextRunID_Collision(t *testing.T) {
	// "R1-retry-2" exists; the next retry from the same root must get
	// the first numbered variant, not reuse the occupied id.
	lookup := newFakeLookup("p1/R1-retry-2")
	r := &run.Run{ProjectID: "p1", RunID: "R1"}

	got := retry.NextRunID(context.Background(), lookup, r, 2)
	if got != "R1-retry-2-2" {
		t.Errorf("NextRunID = %q, want %q", got, "R1-retry-2-2")
	}
}

func TestNextRunID_SkipsOccupiedVariants(t *testing.T) {
	lookup := newFakeLookup("p1/R1-retry-2", "p1/R1-retry-2-2", "p1/R1-retry-2-3")
	r := &run.Run{ProjectID: "p1", RunID: "R1"}

	got := retry.NextRunID(context.Background(), lookup, r, 2)
	if got != "R1-retry-2-4" {
		t.Errorf("NextRunID = %q, want %q", got, "R1-retry-2-4")
	}
}

func TestNextRunID_ProbeLimitFallsBackToBare(t *testing.T) {
	keys := []string{"p1/R1-retry-2"}
	for suffix := 2; suffix <= retry.ProbeLimit; suffix++ {
		keys = append(keys, fmt.Sprintf("p1/R1-retry-2-%d", suffix))
	}
	lookup := newFakeLookup(keys...)
	r := &run.Run{ProjectID: "p1", RunID: "R1"}

	got := retry.NextRunID(context.Background(), lookup, r, 2)
	if got != "R1-retry-2" {
		t.Errorf("NextRunID = %q, want bare candidate after probe limit", got)
	}
	if lookup.probes != retry.ProbeLimit {
		t.Errorf("probes = %d, want %d", lookup.probes, retry.ProbeLimit)
	}
}

func TestNextRunID_UsesLineageRoot(t *testing.T) {
	lookup := newFakeLookup()
	r := &run.Run{
		ProjectID:    "p1",
		RunID:        "R1-retry-2",
		RetryLineage: []run.LineageEntry{{RunID: "R1"}},
	}

	got := retry.NextRunID(context.Background(), lookup, r, 3)
	if got != "R1-retry-3" {
		t.Errorf("NextRunID = %q, want root-based %q", got, "R1-retry-3")
	}
}

func TestBuildLineage(t *testing.T) {
	completed := now.Add(-time.Hour)
	src := &run.Run{
		RunID:        "R1-retry-2",
		Status:       run.StatusFailed,
		RetryAttempt: 2,
		CurrentStep:  "test",
		CompletedAt:  &completed,
		StepResults:  map[string]any{"test": map[string]any{"passed": false}},
		Error:        &run.Failure{ErrorType: "test_failure"},
		RetryLineage: []run.LineageEntry{{RunID: "R1", RetryAttempt: 1}},
	}
	actor := run.Actor{ID: "u1", Email: "u1@example.com"}

	lineage := retry.BuildLineage(src, actor, now)

	if len(lineage) != 2 {
		t.Fatalf("lineage length = %d, want 2", len(lineage))
	}
	if lineage[0].RunID != "R1" {
		t.Errorf("lineage[0] = %q, want oldest first", lineage[0].RunID)
	}

	snap := lineage[1]
	if snap.RunID != "R1-retry-2" || snap.Status != run.StatusFailed || snap.RetryAttempt != 2 {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.TypedFailure == nil || snap.TypedFailure.ErrorType != "test_failure" {
		t.Errorf("snapshot typed failure = %+v", snap.TypedFailure)
	}
	if snap.FailureArtifacts == nil {
		t.Error("snapshot should capture step_results as failure artifacts")
	}
	if snap.RetryActor != actor {
		t.Errorf("snapshot actor = %+v", snap.RetryActor)
	}
	if !snap.RetriedAt.Equal(now) {
		t.Errorf("snapshot retried_at = %v", snap.RetriedAt)
	}

	// The source run's lineage must be untouched.
	if len(src.RetryLineage) != 1 {
		t.Errorf("source lineage mutated: %v", src.RetryLineage)
	}
}

func TestBuildRun_FullRun(t *testing.T) {
	src := &run.Run{
		RunID:           "R1",
		ProjectID:       "p1",
		WorkflowName:    "code_task",
		WorkflowVersion: 3,
		Status:          run.StatusFailed,
		RetryAttempt:    1,
		Trigger:         map[string]any{"mode": "manual"},
		Inputs:          map[string]any{"task": "fix the bug"},
		InitiatingActor: run.Actor{ID: "owner"},
	}
	actor := run.Actor{ID: "u1"}
	plan := retry.Plan{
		Policy:  retry.PolicyFullRun,
		Step:    retry.QueuedStep,
		Attempt: 2,
		RunID:   "R1-retry-2",
		Actor:   actor,
		At:      now,
		Lineage: retry.BuildLineage(src, actor, now),
	}

	got := retry.BuildRun(src, plan)

	if got.RunID != "R1-retry-2" || got.RetryAttempt != 2 {
		t.Errorf("identity = %q attempt %d", got.RunID, got.RetryAttempt)
	}
	if got.Status != run.StatusPending {
		t.Errorf("Status = %q, want pending", got.Status)
	}
	if got.CurrentStep != retry.QueuedStep {
		t.Errorf("CurrentStep = %q, want queued", got.CurrentStep)
	}
	if got.RetryOfRunID != "R1" {
		t.Errorf("RetryOfRunID = %q", got.RetryOfRunID)
	}
	if got.WorkflowVersion != 3 {
		t.Errorf("WorkflowVersion = %d, must stay pinned", got.WorkflowVersion)
	}
	if got.Inputs["task"] != "fix the bug" {
		t.Errorf("Inputs not carried forward: %v", got.Inputs)
	}
	if got.InitiatingActor.ID != "u1" {
		t.Errorf("InitiatingActor = %+v", got.InitiatingActor)
	}
	if got.ID.IsNil() {
		t.Error("surrogate ID must be assigned")
	}

	retryMeta, ok := got.Trigger["retry"].(map[string]any)
	if !ok {
		t.Fatalf("trigger.retry missing: %v", got.Trigger)
	}
	if retryMeta["policy"] != retry.PolicyFullRun {
		t.Errorf("retry policy = %v", retryMeta["policy"])
	}
	if retryMeta["source_run_id"] != "R1" {
		t.Errorf("source_run_id = %v", retryMeta["source_run_id"])
	}
	if retryMeta["attempt"] != 2 {
		t.Errorf("attempt = %v", retryMeta["attempt"])
	}

	// Original trigger must not gain the retry key.
	if _, leaked := src.Trigger["retry"]; leaked {
		t.Error("source run trigger was mutated")
	}
}

func TestBuildRun_ActorFallback(t *testing.T) {
	src := &run.Run{
		RunID:           "R1",
		ProjectID:       "p1",
		InitiatingActor: run.Actor{ID: "owner", Email: "owner@example.com"},
	}
	plan := retry.Plan{
		Policy:  retry.PolicyFullRun,
		Step:    retry.QueuedStep,
		Attempt: 2,
		RunID:   "R1-retry-2",
		Actor:   run.Actor{ID: run.UnknownActorID},
		At:      now,
	}

	got := retry.BuildRun(src, plan)
	if got.InitiatingActor.ID != "owner" {
		t.Errorf("InitiatingActor = %+v, want fallback to source actor", got.InitiatingActor)
	}
}

func TestBuildRun_StepLevel(t *testing.T) {
	src := &run.Run{RunID: "R1", ProjectID: "p1"}
	plan := retry.Plan{
		Policy:  retry.PolicyStepLevel,
		Step:    "test",
		Attempt: 2,
		RunID:   "R1-retry-2",
		Actor:   run.Actor{ID: "u1"},
		At:      now,
	}

	got := retry.BuildRun(src, plan)
	if got.CurrentStep != "test" {
		t.Errorf("CurrentStep = %q, want resolved step", got.CurrentStep)
	}

	retryMeta := got.Trigger["retry"].(map[string]any)
	if retryMeta["policy"] != retry.PolicyStepLevel {
		t.Errorf("policy = %v", retryMeta["policy"])
	}
	if retryMeta["retry_step"] != "test" {
		t.Errorf("retry_step = %v", retryMeta["retry_step"])
	}
}

func TestNextAttemptAt(t *testing.T) {
	p := trigger.ResolveRetryPolicy(map[string]any{
		"retry_policy": map[string]any{
			"backoff": map[string]any{"strategy": "constant", "initial": "45s"},
		},
	})

	got := retry.NextAttemptAt(p, 2, now)
	if want := now.Add(45 * time.Second); !got.Equal(want) {
		t.Errorf("NextAttemptAt = %v, want %v", got, want)
	}
}
