package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aquaform/aquaform/pkg/schema"
)

// ErrorClass tells the operator whether re-running after remediation may
// succeed unchanged. The engine itself never retries.
type ErrorClass string

const (
	// ErrorClassTransient indicates a failure of the environment rather than
	// of the request. Examples: lost connections, timeouts.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassPermanent indicates the request itself cannot succeed as is.
	// Examples: invalid schema, permission denied, constraint violations.
	ErrorClassPermanent ErrorClass = "permanent"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code identifies the error in the taxonomy.
	Code string `json:"code,omitempty"`

	// Resource is the resource name that caused the error, if applicable.
	Resource string `json:"resource,omitempty"`

	// Operation is the action type being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", e.Code, e.Message)
	switch {
	case e.Resource != "" && e.Operation != "":
		fmt.Fprintf(&sb, " (resource=%s, operation=%s)", e.Resource, e.Operation)
	case e.Resource != "":
		fmt.Fprintf(&sb, " (resource=%s)", e.Resource)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is matches on Code, so errors.Is(err, ErrStalePlan) works for any
// stale-plan error regardless of message.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassTransient,
		Message: message,
		Err:     err,
	}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassPermanent,
		Message: message,
		Err:     err,
	}
}

// WithResource adds resource context to an error.
func (e *EngineError) WithResource(resource string) *EngineError {
	e.Resource = resource
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Error codes.
const (
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeCyclicDependency    = "CYCLIC_DEPENDENCY"
	ErrCodeStalePlan           = "STALE_PLAN"
	ErrCodeStateLocked         = "STATE_LOCKED"
	ErrCodeDependentExists     = "DEPENDENT_RESOURCE_EXISTS"
	ErrCodePolicyViolation     = "POLICY_VIOLATION"
	ErrCodeConstraintViolation = "CONSTRAINT_VIOLATION"
	ErrCodePermissionDenied    = "PERMISSION_DENIED"
	ErrCodeConnectionFailure   = "CONNECTION_FAILURE"
	ErrCodeAlreadyExists       = "ALREADY_EXISTS"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeTimeout             = "TIMEOUT"
	ErrCodeUnsupported         = "UNSUPPORTED"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// Sentinels for errors.Is. Only Code is compared.
var (
	ErrValidation          = &EngineError{Code: ErrCodeValidation}
	ErrCyclicDependency    = &EngineError{Code: ErrCodeCyclicDependency}
	ErrStalePlan           = &EngineError{Code: ErrCodeStalePlan}
	ErrStateLocked         = &EngineError{Code: ErrCodeStateLocked}
	ErrDependentExists     = &EngineError{Code: ErrCodeDependentExists}
	ErrPolicyViolation     = &EngineError{Code: ErrCodePolicyViolation}
	ErrConstraintViolation = &EngineError{Code: ErrCodeConstraintViolation}
	ErrPermissionDenied    = &EngineError{Code: ErrCodePermissionDenied}
	ErrConnectionFailure   = &EngineError{Code: ErrCodeConnectionFailure}
	ErrAlreadyExists       = &EngineError{Code: ErrCodeAlreadyExists}
	ErrNotFound            = &EngineError{Code: ErrCodeNotFound}
	ErrTimeout             = &EngineError{Code: ErrCodeTimeout}
	ErrUnsupported         = &EngineError{Code: ErrCodeUnsupported}
)

// NewValidationError wraps a schema validation failure.
func NewValidationError(err error) *EngineError {
	return NewPermanentError("desired state is invalid", err).WithCode(ErrCodeValidation)
}

// NewCyclicDependencyError reports a dependency cycle. The cycle starts and
// ends with the same resource.
func NewCyclicDependencyError(cycle []string) *EngineError {
	return NewPermanentError(
		fmt.Sprintf("circular dependency detected: %s", formatCycle(cycle)), nil,
	).WithCode(ErrCodeCyclicDependency).WithDetail("cycle", cycle)
}

// NewStalePlanError reports that state changed since the plan was computed.
func NewStalePlanError(reason string) *EngineError {
	return NewPermanentError("plan is stale, re-run plan: "+reason, nil).WithCode(ErrCodeStalePlan)
}

// NewDependentResourceExistsError reports dependents blocking a targeted destroy.
func NewDependentResourceExistsError(resource string, dependents []string) *EngineError {
	return NewPermanentError(
		fmt.Sprintf("resource is referenced by %s without ON DELETE CASCADE", strings.Join(dependents, ", ")), nil,
	).WithCode(ErrCodeDependentExists).WithResource(resource).WithDetail("dependents", dependents)
}

// NewPolicyViolationError reports a plan rejected by error-severity
// policy violations.
func NewPolicyViolationError(violations []PolicyViolation) *EngineError {
	var blocking []string
	for _, v := range violations {
		if v.Severity == "error" || v.Severity == "critical" {
			blocking = append(blocking, v.Policy+": "+v.Message)
		}
	}
	return NewPermanentError(
		fmt.Sprintf("plan rejected by policy: %s", strings.Join(blocking, "; ")), nil,
	).WithCode(ErrCodePolicyViolation).WithDetail("violations", violations)
}

// NewBackendError builds a backend failure of the given code. Connection
// failures and timeouts are transient, everything else permanent.
func NewBackendError(code, message string, err error) *EngineError {
	if code == ErrCodeConnectionFailure || code == ErrCodeTimeout {
		return NewTransientError(message, err).WithCode(code)
	}
	return NewPermanentError(message, err).WithCode(code)
}

// CycleOf returns the cycle carried by a cyclic dependency error.
func CycleOf(err error) ([]string, bool) {
	var e *EngineError
	if !errors.As(err, &e) || e.Code != ErrCodeCyclicDependency {
		return nil, false
	}
	cycle, ok := e.Details["cycle"].([]string)
	return cycle, ok
}

// CodeOf returns the taxonomy code of err. Schema validation failures map to
// VALIDATION_ERROR; unclassified errors return "".
func CodeOf(err error) string {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code
	}
	if schema.IsValidationError(err) {
		return ErrCodeValidation
	}
	return ""
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// IsBackendError reports whether err came from a backend adapter.
func IsBackendError(err error) bool {
	switch CodeOf(err) {
	case ErrCodeConstraintViolation, ErrCodePermissionDenied, ErrCodeConnectionFailure,
		ErrCodeAlreadyExists, ErrCodeNotFound, ErrCodeTimeout, ErrCodeUnsupported:
		return true
	}
	return false
}

// ExecutionError reports the action that halted a run.
type ExecutionError struct {
	// Action is the action that failed.
	Action *Action

	// NotAttempted lists the actions that were never started.
	NotAttempted []*Action

	// Err is the backend or state error.
	Err error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("action %d (%s) failed, %d action(s) not attempted: %v",
		e.Action.Index, e.Action, len(e.NotAttempted), e.Err)
}

// Unwrap exposes the underlying error.
func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// formatCycle formats a cycle path for error messages.
func formatCycle(cycle []string) string {
	if len(cycle) == 0 {
		return ""
	}
	return strings.Join(cycle, " -> ")
}
