// Package failure reconciles the partially-overlapping failure
// descriptions reported by upstream agents into one canonical record.
//
// When a run enters the failed status, the same failure may have been
// described in several places: the transition metadata, earlier step
// results, or a record left by a previous failure. The resolver searches a
// fixed priority order of sources and resolves each field independently:
// the first source with a non-empty value for a given field wins that
// field, even if a higher-priority source supplied other fields.
package failure

import (
	"strings"
	"time"

	"github.com/pcharbon70/loom/internal/mapval"
	"github.com/pcharbon70/loom/run"
)

// Defaults substituted when no source supplies a field.
const (
	// DefaultErrorType tags failures no source could classify.
	DefaultErrorType = "unknown_error"
	// DefaultRemediation is the fallback operator guidance.
	DefaultRemediation = "Inspect the failure detail and retry the run after addressing the cause."
)

// Fields tracked by the completeness report.
const (
	FieldErrorType          = "error_type"
	FieldRemediation        = "remediation"
	FieldLastSuccessfulStep = "last_successful_step"
)

// Fallback key chains, resolved per field. The first key with a non-empty
// value inside a source wins within that source.
var (
	detailKeys      = []string{"detail", "message", "summary"}
	remediationKeys = []string{"remediation", "remediation_hint", "safe_retry_recommendation"}
	failedStepKeys  = []string{"failed_step", "current_step", "step"}
	lastStepKeys    = []string{"last_successful_step", "last_completed_step"}
)

// Input carries everything the resolver may consult.
type Input struct {
	// TransitionMetadata is the metadata supplied with the failing
	// transition, if any.
	TransitionMetadata map[string]any
	// StepResults is the run's accumulated step_results.
	StepResults map[string]any
	// Prior is the run's pre-existing failure record, if any. Lowest
	// priority source; its event diagnostics are carried forward.
	Prior *run.Failure
	// Transitions is the run's status audit trail, consulted to infer
	// the last successful step.
	Transitions []run.TransitionRecord
	// CurrentStep is the step recorded on the failing transition.
	CurrentStep string
	// Now is the transition time, used when no source supplies a
	// timestamp.
	Now time.Time
}

// Resolve builds the canonical failure record for a run entering failed.
func Resolve(in Input) *run.Failure {
	sources := candidateSources(in)

	f := &run.Failure{
		ErrorType:          firstField(sources, "error_type"),
		ReasonType:         firstField(sources, "reason_type"),
		Detail:             firstField(sources, detailKeys...),
		Remediation:        firstField(sources, remediationKeys...),
		FailedStep:         firstField(sources, failedStepKeys...),
		LastSuccessfulStep: firstField(sources, lastStepKeys...),
	}
	f.Timestamp = firstTimestamp(sources, in.Now)

	var missing []string

	if f.ErrorType == "" {
		f.ErrorType = DefaultErrorType
		missing = append(missing, FieldErrorType)
	}
	if f.Remediation == "" {
		f.Remediation = DefaultRemediation
		missing = append(missing, FieldRemediation)
	}
	if f.ReasonType == "" {
		f.ReasonType = NormalizeReason(f.ErrorType)
	}
	if f.FailedStep == "" {
		f.FailedStep = in.CurrentStep
	}
	if f.LastSuccessfulStep == "" {
		f.LastSuccessfulStep = inferLastSuccessfulStep(in.Transitions, f.FailedStep)
		missing = append(missing, FieldLastSuccessfulStep)
	}

	f.Complete = len(missing) == 0
	f.MissingFields = missing

	// Publication diagnostics survive the overwrite; losing them would
	// hide delivery problems that predate this failure.
	if in.Prior != nil && len(in.Prior.EventChannelDiagnostics) > 0 {
		f.EventChannelDiagnostics = append(
			[]run.EventDiagnostic(nil), in.Prior.EventChannelDiagnostics...)
	}

	return f
}

// candidateSources returns the seven candidate maps in priority order.
// Absent sources collapse to nil and are skipped by the field scans.
func candidateSources(in Input) []map[string]any {
	var prior map[string]any
	if in.Prior != nil {
		prior = in.Prior.AsMap()
	}
	return []map[string]any{
		mapval.Map(in.TransitionMetadata, run.KeyFailureContext),
		mapval.Map(in.TransitionMetadata, "typed_failure"),
		mapval.Map(in.TransitionMetadata, "error"),
		in.TransitionMetadata,
		mapval.Map(in.StepResults, run.KeyFailureContext),
		mapval.Map(in.StepResults, run.KeyFailureReport),
		prior,
	}
}

// firstField scans the sources in order and returns the first non-empty
// value for any of the given keys.
func firstField(sources []map[string]any, keys ...string) string {
	for _, src := range sources {
		if src == nil {
			continue
		}
		if v := mapval.FirstString(src, keys...); v != "" {
			return v
		}
	}
	return ""
}

func firstTimestamp(sources []map[string]any, fallback time.Time) time.Time {
	for _, src := range sources {
		if src == nil {
			continue
		}
		if t, ok := mapval.Time(src, "timestamp"); ok {
			return t
		}
	}
	return fallback
}

// inferLastSuccessfulStep scans the audit trail in reverse for the most
// recent transition into a making-progress status whose step differs from
// the failed step.
func inferLastSuccessfulStep(transitions []run.TransitionRecord, failedStep string) string {
	for i := len(transitions) - 1; i >= 0; i-- {
		tr := transitions[i]
		switch tr.To {
		case run.StatusRunning, run.StatusAwaitingApproval, run.StatusCompleted:
			if tr.CurrentStep != "" && tr.CurrentStep != failedStep {
				return tr.CurrentStep
			}
		}
	}
	return ""
}

// NormalizeReason derives a reason_type from an error type: lower case,
// runs of non-alphanumeric characters collapsed to single underscores.
func NormalizeReason(errorType string) string {
	var b strings.Builder
	b.Grow(len(errorType))

	lastUnderscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(errorType)) {
		alnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if alnum {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore && b.Len() > 0 {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}

	return strings.TrimSuffix(b.String(), "_")
}
