package run

import "time"

// Failure is the canonical, multi-source-reconciled description of why a
// run failed and what to do about it. It is built by the failure resolver
// when a run enters the failed status, and overwrites any prior record.
type Failure struct {
	ErrorType  string `json:"error_type"`
	ReasonType string `json:"reason_type"`
	Detail     string `json:"detail,omitempty"`
	// Remediation suggests what an operator can do about the failure.
	Remediation string `json:"remediation,omitempty"`
	// FailedStep is the step the run was in when it failed.
	FailedStep string `json:"failed_step,omitempty"`
	// LastSuccessfulStep is the most recent step known to have made
	// progress before the failure.
	LastSuccessfulStep string    `json:"last_successful_step,omitempty"`
	Timestamp          time.Time `json:"timestamp"`

	// Complete reports whether error_type, remediation, and
	// last_successful_step were genuinely supplied by a source rather
	// than defaulted. MissingFields names the defaulted ones.
	Complete      bool     `json:"failure_context_complete"`
	MissingFields []string `json:"missing_failure_context_fields,omitempty"`

	// EventChannelDiagnostics accumulates event-publication failures.
	// These are recorded but non-blocking; they never fail a transition.
	EventChannelDiagnostics []EventDiagnostic `json:"event_channel_diagnostics,omitempty"`
}

// EventDiagnostic records one failed event publication attempt.
type EventDiagnostic struct {
	Event      string    `json:"event"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Clone returns a deep copy of the failure record.
func (f *Failure) Clone() *Failure {
	cp := *f
	cp.MissingFields = append([]string(nil), f.MissingFields...)
	cp.EventChannelDiagnostics = append([]EventDiagnostic(nil), f.EventChannelDiagnostics...)
	return &cp
}

// AsMap renders the failure as a free-form map, the shape it takes inside
// step_results artifacts and retry lineage snapshots.
func (f *Failure) AsMap() map[string]any {
	m := map[string]any{
		"error_type":               f.ErrorType,
		"reason_type":              f.ReasonType,
		"timestamp":                f.Timestamp,
		"failure_context_complete": f.Complete,
	}
	if f.Detail != "" {
		m["detail"] = f.Detail
	}
	if f.Remediation != "" {
		m["remediation"] = f.Remediation
	}
	if f.FailedStep != "" {
		m["failed_step"] = f.FailedStep
	}
	if f.LastSuccessfulStep != "" {
		m["last_successful_step"] = f.LastSuccessfulStep
	}
	if len(f.MissingFields) > 0 {
		m["missing_failure_context_fields"] = append([]string(nil), f.MissingFields...)
	}
	return m
}
