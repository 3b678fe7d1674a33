// Package retry resolves retry attempt numbers, generates collision-free
// run identifiers, and reconstructs the multi-generation retry lineage.
//
// Retries never mutate the original run: each retry creates a new sibling
// record carrying a snapshot chain of its ancestors. Identifier generation
// is best-effort: the lookup probe cannot prevent two concurrent retries
// computing the same candidate, so stores additionally enforce
// (project_id, run_id) uniqueness and the create fails cleanly on the
// loser of the race.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/pcharbon70/loom"
	"github.com/pcharbon70/loom/backoff"
	"github.com/pcharbon70/loom/id"
	"github.com/pcharbon70/loom/run"
	"github.com/pcharbon70/loom/trigger"
)

// ProbeLimit is the maximum number of lookup probes for a free run
// identifier, counting the bare candidate.
const ProbeLimit = 100

// Retry policy labels recorded on the new run's trigger.
const (
	PolicyFullRun   = "full_run"
	PolicyStepLevel = "step_level"
)

// QueuedStep is the current_step for full-run retries awaiting pickup.
const QueuedStep = "queued"

// NextAttempt returns the attempt number for a retry of r: the prior
// attempt plus one. A run with no valid prior attempt is treated as
// attempt 1, so its first retry yields 2.
func NextAttempt(r *run.Run) int {
	prior := r.RetryAttempt
	if prior < 1 {
		prior = 1
	}
	return prior + 1
}

// RootRunID returns the identifier of the root of r's retry chain: the
// oldest lineage snapshot when one exists, otherwise r itself.
func RootRunID(r *run.Run) string {
	if len(r.RetryLineage) > 0 && r.RetryLineage[0].RunID != "" {
		return r.RetryLineage[0].RunID
	}
	return r.RunID
}

// NextRunID generates the human-facing identifier for retry attempt n of
// r. The candidate is "<root>-retry-<attempt>". The lookup is probed for
// (project_id, candidate); while occupied, numbered variants
// "<root>-retry-<attempt>-2" through "-100" are probed in order. If every
// probe finds an occupant the bare candidate is returned anyway; the
// store's uniqueness constraint is the backstop at that point.
//
// Only a successful find marks a candidate occupied. Lookup errors are
// treated as free: refusing to generate an identifier because the probe
// read failed would turn a transient read problem into a retry outage,
// and the create-time constraint catches any resulting collision.
func NextRunID(ctx context.Context, lookup run.Lookup, r *run.Run, attempt int) string {
	root := RootRunID(r)
	candidate := fmt.Sprintf("%s-retry-%d", root, attempt)

	if !occupied(ctx, lookup, r.ProjectID, candidate) {
		return candidate
	}
	for suffix := 2; suffix <= ProbeLimit; suffix++ {
		variant := fmt.Sprintf("%s-%d", candidate, suffix)
		if !occupied(ctx, lookup, r.ProjectID, variant) {
			return variant
		}
	}

	return candidate
}

func occupied(ctx context.Context, lookup run.Lookup, projectID, runID string) bool {
	found, err := lookup.FindByProjectAndRunID(ctx, projectID, runID)
	return err == nil && found != nil
}

// BuildLineage copies r's existing lineage and appends a snapshot of r
// itself, preserving its failure artifacts and typed failure for audit.
// Lineage stays ordered oldest first.
func BuildLineage(r *run.Run, actor run.Actor, retriedAt time.Time) []run.LineageEntry {
	lineage := make([]run.LineageEntry, len(r.RetryLineage), len(r.RetryLineage)+1)
	copy(lineage, r.RetryLineage)

	snapshot := run.LineageEntry{
		RunID:        r.RunID,
		Status:       r.Status,
		RetryAttempt: r.RetryAttempt,
		CurrentStep:  r.Step(),
		RetryActor:   actor,
		RetriedAt:    retriedAt,
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		snapshot.CompletedAt = &t
	}
	if len(r.StepResults) > 0 {
		snapshot.FailureArtifacts = r.Clone().StepResults
	}
	if r.Error != nil {
		snapshot.TypedFailure = r.Error.Clone()
	}

	lineage = append(lineage, snapshot)
	return lineage
}

// NextAttemptAt recommends when the retried run should be picked up,
// using the policy's backoff configuration. Attempt numbering for the
// delay is zero-based on retries: the first retry (attempt 2) gets the
// strategy's first delay.
func NextAttemptAt(p trigger.RetryPolicy, attempt int, from time.Time) time.Time {
	s := backoff.Resolve(p.Backoff.Strategy, p.Backoff.Initial, p.Backoff.Max)
	n := attempt - 1
	if n < 1 {
		n = 1
	}
	return from.Add(s.Delay(n))
}

// Plan carries everything needed to build a retry run.
type Plan struct {
	// Policy is PolicyFullRun or PolicyStepLevel.
	Policy string
	// Step is the starting step: QueuedStep for full-run retries, the
	// resolved target step for step-level retries.
	Step string
	// Attempt is the new run's retry_attempt.
	Attempt int
	// RunID is the generated human-facing identifier.
	RunID string
	// Actor initiated the retry. Stored on the lineage snapshot and, when
	// resolved, as the new run's initiating actor.
	Actor run.Actor
	// At is the retry timestamp.
	At time.Time
	// NextAttemptAt is the recommended pickup time.
	NextAttemptAt time.Time
	// Lineage is the ancestor chain including the source run's snapshot.
	Lineage []run.LineageEntry
}

// BuildRun constructs the new pending run record for a retry of src.
// Inputs and input metadata are carried forward; the initiating actor
// falls back to the source run's actor when the caller's actor is
// unresolved. The source run is left untouched.
func BuildRun(src *run.Run, plan Plan) *run.Run {
	cp := src.Clone()

	actor := plan.Actor
	if actor.Unresolved() {
		actor = src.InitiatingActor
	}

	trig := cp.Trigger
	if trig == nil {
		trig = map[string]any{}
	}
	retryMeta := map[string]any{
		"policy":        plan.Policy,
		"source_run_id": src.RunID,
		"attempt":       plan.Attempt,
		"actor":         map[string]any{"id": plan.Actor.ID, "email": plan.Actor.Email},
		"timestamp":     plan.At,
	}
	if !plan.NextAttemptAt.IsZero() {
		retryMeta["next_attempt_at"] = plan.NextAttemptAt
	}
	if plan.Policy == PolicyStepLevel {
		retryMeta["retry_step"] = plan.Step
	}
	trig["retry"] = retryMeta

	newRun := &run.Run{
		Entity:          loom.NewEntity(),
		ID:              id.NewRunID(),
		RunID:           plan.RunID,
		ProjectID:       src.ProjectID,
		WorkflowName:    src.WorkflowName,
		WorkflowVersion: src.WorkflowVersion,
		Status:          run.StatusPending,
		CurrentStep:     plan.Step,
		StatusTransitions: []run.TransitionRecord{{
			From:           run.StatusPending,
			To:             run.StatusPending,
			CurrentStep:    plan.Step,
			TransitionedAt: plan.At,
		}},
		Trigger:         trig,
		Inputs:          cp.Inputs,
		InputMetadata:   cp.InputMetadata,
		InitiatingActor: actor,
		StepResults:     map[string]any{},
		RetryOfRunID:    src.RunID,
		RetryAttempt:    plan.Attempt,
		RetryLineage:    plan.Lineage,
		StartedAt:       plan.At,
	}

	return newRun
}
