// Package approval assembles the payload a human reviews before approving
// a workflow run, and records the decisions they make.
//
// The builder is a pure function over step_results. It never fails the
// transition into awaiting_approval: when the upstream agent reported a
// context-generation error, the run still parks at the approval gate and a
// diagnostic is stored instead, so the UI can block the approve action
// until the context is regenerated.
package approval

import (
	"time"

	"github.com/pcharbon70/loom/internal/mapval"
	"github.com/pcharbon70/loom/run"
)

// Placeholders substituted for absent summary fields. The reviewer always
// sees something human-readable, never an empty box.
const (
	PlaceholderDiffSummary = "No diff summary was provided for this run."
	PlaceholderTestSummary = "No test summary was provided for this run."
	FallbackRiskNote       = "No risk notes were provided; review the full diff before approving."
)

// ErrorTypeGenerationFailed tags the diagnostic stored when the upstream
// agent could not produce an approval context.
const ErrorTypeGenerationFailed = "approval_context_generation_failed"

// Context is the approval payload a human reviews.
type Context struct {
	DiffSummary string   `json:"diff_summary"`
	TestSummary string   `json:"test_summary"`
	RiskNotes   []string `json:"risk_notes"`
}

// AsMap renders the context in the shape it is stored under
// step_results["approval_context"].
func (c Context) AsMap() map[string]any {
	notes := make([]any, len(c.RiskNotes))
	for i, n := range c.RiskNotes {
		notes[i] = n
	}
	return map[string]any{
		"diff_summary": c.DiffSummary,
		"test_summary": c.TestSummary,
		"risk_notes":   notes,
	}
}

// Diagnostic records a failed context generation. It is stored alongside
// (not instead of) the transition into awaiting_approval.
type Diagnostic struct {
	ErrorType  string    `json:"error_type"`
	Detail     string    `json:"detail"`
	OccurredAt time.Time `json:"occurred_at"`
}

// AsMap renders the diagnostic for storage in step_results.
func (d Diagnostic) AsMap() map[string]any {
	return map[string]any{
		"error_type":  d.ErrorType,
		"detail":      d.Detail,
		"occurred_at": d.OccurredAt,
	}
}

// Build assembles the approval context from the run's step_results.
//
// When a generation error is recorded (see GenerationError), Build returns
// a Diagnostic and no Context. Otherwise the summaries are read from the
// step_results approval_context sub-map when present, falling back to
// top-level step_results keys, and finally to fixed placeholders. The risk
// notes always resolve to a non-empty list.
func Build(stepResults map[string]any, now time.Time) (*Context, *Diagnostic) {
	if reason := GenerationError(stepResults); reason != "" {
		return nil, &Diagnostic{
			ErrorType:  ErrorTypeGenerationFailed,
			Detail:     reason,
			OccurredAt: now,
		}
	}

	// Prefer the agent-supplied sub-map; tolerate flat step_results.
	src := mapval.Map(stepResults, run.KeyApprovalContext)
	if src == nil {
		src = stepResults
	}

	c := &Context{
		DiffSummary: mapval.FirstString(src, "diff_summary", "diff"),
		TestSummary: mapval.FirstString(src, "test_summary", "tests"),
		RiskNotes:   mapval.Strings(src, "risk_notes"),
	}
	if c.DiffSummary == "" {
		c.DiffSummary = PlaceholderDiffSummary
	}
	if c.TestSummary == "" {
		c.TestSummary = PlaceholderTestSummary
	}
	if len(c.RiskNotes) == 0 {
		c.RiskNotes = mapval.Strings(src, "risks")
	}
	if len(c.RiskNotes) == 0 {
		c.RiskNotes = []string{FallbackRiskNote}
	}

	return c, nil
}

// GenerationError returns the recorded context-generation failure reason,
// or "" when none is recorded. It checks, in order: the top-level
// approval_context_generation_error key, a generation_error field nested
// inside the approval_context sub-map, and an error field on a
// generate_approval_context step result.
func GenerationError(stepResults map[string]any) string {
	if s := mapval.String(stepResults, run.KeyApprovalContextError); s != "" {
		return s
	}
	if sub := mapval.Map(stepResults, run.KeyApprovalContext); sub != nil {
		if s := mapval.String(sub, "generation_error"); s != "" {
			return s
		}
	}
	if sub := mapval.Map(stepResults, "generate_approval_context"); sub != nil {
		if s := mapval.FirstString(sub, "error", "generation_error"); s != "" {
			return s
		}
	}
	return ""
}

// Blocked reports whether the approve operation must be refused: the
// stored approval context is empty, or a generation diagnostic is
// currently recorded.
func Blocked(stepResults map[string]any) bool {
	if GenerationError(stepResults) != "" {
		return true
	}
	ctx := mapval.Map(stepResults, run.KeyApprovalContext)
	return len(ctx) == 0
}

// Decision records a human (or synthesized) approval decision.
type Decision struct {
	// Decision is "approved" or "rejected".
	Decision  string    `json:"decision"`
	Actor     run.Actor `json:"actor"`
	Comment   string    `json:"comment,omitempty"`
	DecidedAt time.Time `json:"decided_at"`
}

// Decision values.
const (
	DecisionApproved = "approved"
	DecisionRejected = "rejected"
)

// AsMap renders the decision for storage in step_results and in
// transition metadata.
func (d Decision) AsMap() map[string]any {
	m := map[string]any{
		"decision":   d.Decision,
		"decided_at": d.DecidedAt,
		"actor": map[string]any{
			"id":    d.Actor.ID,
			"email": d.Actor.Email,
		},
	}
	if d.Comment != "" {
		m["comment"] = d.Comment
	}
	return m
}
