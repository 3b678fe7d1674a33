package run_test

import (
	"testing"
	"time"

	"github.com/pcharbon70/loom/run"
)

func TestStatusTerminal(t *testing.T) {
	tests := []struct {
		status run.Status
		want   bool
	}{
		{run.StatusPending, false},
		{run.StatusRunning, false},
		{run.StatusAwaitingApproval, false},
		{run.StatusCompleted, true},
		{run.StatusFailed, true},
		{run.StatusCancelled, true},
	}
	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.want {
			t.Errorf("%s.Terminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestStatusValid(t *testing.T) {
	for _, s := range []run.Status{
		run.StatusPending, run.StatusRunning, run.StatusAwaitingApproval,
		run.StatusCompleted, run.StatusFailed, run.StatusCancelled,
	} {
		if !s.Valid() {
			t.Errorf("%s.Valid() = false, want true", s)
		}
	}
	for _, s := range []run.Status{"", "queued", "done", "PENDING"} {
		if s.Valid() {
			t.Errorf("%q.Valid() = true, want false", s)
		}
	}
}

func TestActorUnresolved(t *testing.T) {
	tests := []struct {
		actor run.Actor
		want  bool
	}{
		{run.Actor{}, true},
		{run.Actor{ID: run.UnknownActorID}, true},
		{run.Actor{ID: "unknown", Email: "someone@example.com"}, true},
		{run.Actor{ID: "u1"}, false},
	}
	for _, tt := range tests {
		if got := tt.actor.Unresolved(); got != tt.want {
			t.Errorf("Unresolved(%+v) = %v, want %v", tt.actor, got, tt.want)
		}
	}
}

func TestStep(t *testing.T) {
	r := &run.Run{}
	if got := r.Step(); got != run.DefaultStep {
		t.Errorf("Step() = %q, want %q", got, run.DefaultStep)
	}
	r.CurrentStep = "analyze"
	if got := r.Step(); got != "analyze" {
		t.Errorf("Step() = %q, want analyze", got)
	}
}

func TestLastTransition(t *testing.T) {
	r := &run.Run{}
	if r.LastTransition() != nil {
		t.Error("expected nil for run without transitions")
	}

	r.StatusTransitions = []run.TransitionRecord{
		{From: run.StatusPending, To: run.StatusPending},
		{From: run.StatusPending, To: run.StatusRunning, CurrentStep: "analyze"},
	}
	last := r.LastTransition()
	if last == nil {
		t.Fatal("expected last transition")
	}
	if last.To != run.StatusRunning || last.CurrentStep != "analyze" {
		t.Errorf("LastTransition = %+v", last)
	}
}

func TestCloneIsolation(t *testing.T) {
	completed := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	src := &run.Run{
		RunID:     "R1",
		ProjectID: "proj-1",
		Status:    run.StatusFailed,
		StatusTransitions: []run.TransitionRecord{
			{From: run.StatusPending, To: run.StatusRunning, Metadata: map[string]any{"k": "v"}},
		},
		Trigger: map[string]any{
			"retry_policy": map[string]any{"full_run": true},
		},
		StepResults: map[string]any{
			"approval_decisions": []any{map[string]any{"decision": "approved"}},
		},
		Error: &run.Failure{ErrorType: "execution", ReasonType: "provider_error"},
		RetryLineage: []run.LineageEntry{
			{RunID: "R0", FailureArtifacts: map[string]any{"step": "test"}},
		},
		CompletedAt: &completed,
	}

	cp := src.Clone()

	cp.StatusTransitions[0].Metadata["k"] = "changed"
	cp.Trigger["retry_policy"].(map[string]any)["full_run"] = false
	cp.StepResults["approval_decisions"].([]any)[0].(map[string]any)["decision"] = "rejected"
	cp.Error.ReasonType = "auth_error"
	cp.RetryLineage[0].FailureArtifacts["step"] = "build"
	*cp.CompletedAt = completed.Add(time.Hour)

	if src.StatusTransitions[0].Metadata["k"] != "v" {
		t.Error("transition metadata shared between clone and source")
	}
	if src.Trigger["retry_policy"].(map[string]any)["full_run"] != true {
		t.Error("trigger shared between clone and source")
	}
	if src.StepResults["approval_decisions"].([]any)[0].(map[string]any)["decision"] != "approved" {
		t.Error("step results shared between clone and source")
	}
	if src.Error.ReasonType != "provider_error" {
		t.Error("failure record shared between clone and source")
	}
	if src.RetryLineage[0].FailureArtifacts["step"] != "test" {
		t.Error("lineage artifacts shared between clone and source")
	}
	if !src.CompletedAt.Equal(completed) {
		t.Error("completed_at shared between clone and source")
	}
}
