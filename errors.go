package loom

import (
	"errors"
	"fmt"
	"time"
)

var (
	// Store errors.
	ErrNoStore         = errors.New("loom: no store configured")
	ErrStoreClosed     = errors.New("loom: store closed")
	ErrMigrationFailed = errors.New("loom: migration failed")

	// Not found errors.
	ErrRunNotFound = errors.New("loom: run not found")

	// Conflict errors.
	ErrRunAlreadyExists = errors.New("loom: run already exists")

	// State errors.
	ErrInvalidTransition = errors.New("loom: invalid lifecycle transition")
)

// Error categories. Every operation failure falls into exactly one.
const (
	ErrorTypeValidation = "validation"
	ErrorTypeExecution  = "execution"
	ErrorTypeProvider   = "provider"
)

// Reason types returned across the public operation boundary.
const (
	ReasonInvalidTransition      = "invalid_lifecycle_transition"
	ReasonInvalidRunStatus       = "invalid_run_status"
	ReasonPolicyInvalid          = "policy_invalid"
	ReasonPolicyViolation        = "policy_violation"
	ReasonApprovalContextBlocked = "approval_context_blocked"
	ReasonRunCreationFailed      = "run_creation_failed"
	ReasonPostRequestInvalid     = "post_request_invalid"
	ReasonPersistenceFailed      = "persistence_failed"
	ReasonAuthError              = "auth_error"
	ReasonProviderError          = "provider_error"
)

// OpError is the typed failure record returned by every public operation.
// Failures never cross the operation boundary as raw collaborator errors or
// panics; they are converted into an OpError at the call site.
type OpError struct {
	// ErrorType is the failure category: validation, execution, or provider.
	ErrorType string `json:"error_type"`
	// Op is the operation that failed (create, approve, retry, ...).
	Op string `json:"operation"`
	// ReasonType is the machine-readable reason (invalid_run_status, ...).
	ReasonType string `json:"reason_type"`
	// Detail is a human-readable description of the failure.
	Detail string `json:"detail"`
	// Remediation suggests what the caller can do about it.
	Remediation string `json:"remediation,omitempty"`
	// Timestamp records when the failure was classified.
	Timestamp time.Time `json:"timestamp"`
	// FieldErrors carries per-field validation messages, if any.
	FieldErrors map[string]string `json:"field_errors,omitempty"`
	// Policy carries the resolved retry policy for policy failures.
	Policy map[string]any `json:"policy,omitempty"`

	// cause is the wrapped underlying error, if any.
	cause error
}

// Error implements the error interface.
func (e *OpError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("loom: %s failed: %s", e.Op, e.ReasonType)
	}
	return fmt.Sprintf("loom: %s failed: %s: %s", e.Op, e.ReasonType, e.Detail)
}

// Unwrap returns the wrapped cause, if any.
func (e *OpError) Unwrap() error { return e.cause }

// WithCause attaches an underlying error and returns the OpError.
func (e *OpError) WithCause(err error) *OpError {
	e.cause = err
	return e
}

// WithRemediation sets the remediation hint and returns the OpError.
func (e *OpError) WithRemediation(hint string) *OpError {
	e.Remediation = hint
	return e
}

// NewValidationError builds a validation-category OpError.
func NewValidationError(op, reason, detail string) *OpError {
	return &OpError{
		ErrorType:  ErrorTypeValidation,
		Op:         op,
		ReasonType: reason,
		Detail:     detail,
		Timestamp:  time.Now().UTC(),
	}
}

// NewExecutionError builds an execution-category OpError.
func NewExecutionError(op, reason, detail string) *OpError {
	return &OpError{
		ErrorType:  ErrorTypeExecution,
		Op:         op,
		ReasonType: reason,
		Detail:     detail,
		Timestamp:  time.Now().UTC(),
	}
}

// NewProviderError builds a provider-category OpError.
func NewProviderError(op, reason, detail string) *OpError {
	return &OpError{
		ErrorType:  ErrorTypeProvider,
		Op:         op,
		ReasonType: reason,
		Detail:     detail,
		Timestamp:  time.Now().UTC(),
	}
}

// AsOpError unwraps err into an *OpError if possible.
func AsOpError(err error) (*OpError, bool) {
	var oe *OpError
	if errors.As(err, &oe) {
		return oe, true
	}
	return nil, false
}
