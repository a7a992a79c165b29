package errors

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategoryValidation    ErrorCategory = "validation"
	CategoryAuthorization ErrorCategory = "authorization"
	CategoryNotFound      ErrorCategory = "not_found"
	CategoryConflict      ErrorCategory = "conflict"
	CategoryGovernance    ErrorCategory = "governance"
	CategoryEngine        ErrorCategory = "engine"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryInternal      ErrorCategory = "internal"
)

// ErrorCode represents specific error codes within categories
type ErrorCode string

const (
	// Validation errors
	CodeInvalidInput   ErrorCode = "invalid_input"
	CodeOutOfRange     ErrorCode = "out_of_range"
	CodeUnknownEnum    ErrorCode = "unknown_enum"
	CodeScopeMismatch  ErrorCode = "scope_mismatch"
	CodeOverMatch      ErrorCode = "over_match"
	CodeIgnoredLine    ErrorCode = "ignored_line"
	CodeMissingPayload ErrorCode = "missing_payload"
	CodeBadTransition  ErrorCode = "bad_transition"
	CodeBadCursor      ErrorCode = "bad_cursor"

	// Authorization errors
	CodeScopeDenied       ErrorCode = "scope_denied"
	CodeMakerChecker      ErrorCode = "maker_checker_violation"
	CodeMissingPermission ErrorCode = "missing_permission"

	// Not-found errors
	CodeEntityMissing ErrorCode = "entity_missing"

	// Conflict errors
	CodeReplayDivergence    ErrorCode = "replay_divergence"
	CodeDecisionAfterFinal  ErrorCode = "decision_after_final"
	CodeUnsupportedDispatch ErrorCode = "unsupported_dispatch"
	CodeDuplicateEntity     ErrorCode = "duplicate_entity"

	// Governance errors
	CodePendingApproval ErrorCode = "pending_approval"

	// Engine errors
	CodeApplyError ErrorCode = "apply_error"

	// Configuration errors
	CodeInvalidConfig ErrorCode = "invalid_config"
	CodeMissingConfig ErrorCode = "missing_config"

	// Internal errors
	CodeUnexpectedError ErrorCode = "unexpected_error"
	CodeStorageError    ErrorCode = "storage_error"
)

// ReconError is the base error type for all application errors
type ReconError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context provides additional information about the error
type Context map[string]interface{}

// Error implements the error interface
func (e *ReconError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", e.Message, e.Suggestion)
	}
	return e.Message
}

// Unwrap returns the underlying cause error
func (e *ReconError) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps the error category onto the transport status code.
// Governance-pending is not normally surfaced as an error; when it is,
// it rides the conflict status.
func (e *ReconError) HTTPStatus() int {
	switch e.Category {
	case CategoryValidation:
		return http.StatusBadRequest
	case CategoryAuthorization:
		return http.StatusForbidden
	case CategoryNotFound:
		return http.StatusNotFound
	case CategoryConflict, CategoryGovernance:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// GetExitCode returns an appropriate exit code for the error
func (e *ReconError) GetExitCode() int {
	switch e.Category {
	case CategoryNotFound:
		return 2
	case CategoryValidation:
		return 3
	case CategoryConfiguration:
		return 4
	case CategoryEngine, CategoryInternal:
		return 5
	case CategoryAuthorization:
		return 6
	case CategoryConflict:
		return 7
	case CategoryGovernance:
		return 8
	default:
		return 1
	}
}

// WithContext adds context information to the error
func (e *ReconError) WithContext(key string, value interface{}) *ReconError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for fixing the error
func (e *ReconError) WithSuggestion(suggestion string) *ReconError {
	e.Suggestion = suggestion
	return e
}

// New creates a new ReconError
func New(category ErrorCategory, code ErrorCode, message string) *ReconError {
	return &ReconError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Newf creates a new ReconError with a formatted message
func Newf(category ErrorCategory, code ErrorCode, format string, args ...interface{}) *ReconError {
	return New(category, code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with ReconError context
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *ReconError {
	if err == nil {
		return nil
	}

	return &ReconError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

// stackTracer interface for extracting stack traces
type stackTracer interface {
	StackTrace() errors.StackTrace
}

// Specific error constructors

// ValidationError creates a validation-related error
func ValidationError(code ErrorCode, field string, value interface{}) *ReconError {
	var message string
	var suggestion string

	switch code {
	case CodeOutOfRange:
		message = fmt.Sprintf("value out of range in field '%s': %v", field, value)
		suggestion = "ensure the value is within the documented range"
	case CodeUnknownEnum:
		message = fmt.Sprintf("unknown value in field '%s': %v", field, value)
		suggestion = "use one of the documented enum values"
	case CodeMissingPayload:
		message = fmt.Sprintf("required field '%s' is missing or empty", field)
		suggestion = "provide a value for this required field"
	case CodeScopeMismatch:
		message = fmt.Sprintf("scope mismatch on '%s': %v", field, value)
		suggestion = "the referenced entity belongs to a different legal entity or bank account"
	case CodeBadCursor:
		message = "cursor is malformed"
		suggestion = "pass a cursor returned by a previous listing unmodified"
	default:
		message = fmt.Sprintf("invalid value in field '%s': %v", field, value)
		suggestion = "check the field value and format"
	}

	return New(CategoryValidation, code, message).
		WithSuggestion(suggestion).
		WithContext("field", field).
		WithContext("value", value)
}

// OverMatchError rejects a match that would push the matched total past the
// statement line amount.
func OverMatchError(lineID uint, detail string) *ReconError {
	return New(CategoryValidation, CodeOverMatch,
		fmt.Sprintf("matched amount exceeds statement line amount: %s", detail)).
		WithSuggestion("unmatch an existing match or reduce the amount").
		WithContext("statement_line_id", lineID)
}

// IgnoredLineError rejects a mutation on an IGNORED line.
func IgnoredLineError(lineID uint, operation string) *ReconError {
	return New(CategoryValidation, CodeIgnoredLine,
		fmt.Sprintf("statement line %d is ignored and cannot be %s", lineID, operation)).
		WithSuggestion("unignore the line first").
		WithContext("statement_line_id", lineID)
}

// TransitionError rejects a lifecycle move the current state forbids.
func TransitionError(entity string, from, to interface{}) *ReconError {
	return New(CategoryValidation, CodeBadTransition,
		fmt.Sprintf("%s cannot move from %v to %v", entity, from, to)).
		WithContext("from", from).
		WithContext("to", to)
}

// ScopeDeniedError creates an authorization error for a scope-guard denial
func ScopeDeniedError(scopeType string, id uint) *ReconError {
	return New(CategoryAuthorization, CodeScopeDenied,
		fmt.Sprintf("access to %s %d is not permitted", scopeType, id)).
		WithSuggestion("request access to this scope or narrow the filter").
		WithContext("scope_type", scopeType).
		WithContext("scope_id", id)
}

// MakerCheckerError rejects a requester approving their own request.
func MakerCheckerError(requestID uint) *ReconError {
	return New(CategoryAuthorization, CodeMakerChecker,
		"requester cannot approve their own request").
		WithContext("request_id", requestID)
}

// PermissionError rejects a caller lacking a permission code.
func PermissionError(permission string) *ReconError {
	return New(CategoryAuthorization, CodeMissingPermission,
		fmt.Sprintf("permission '%s' is required", permission)).
		WithContext("permission", permission)
}

// NotFoundError creates a not-found error for a missing entity
func NotFoundError(entity string, id interface{}) *ReconError {
	return New(CategoryNotFound, CodeEntityMissing,
		fmt.Sprintf("%s %v not found", entity, id)).
		WithContext("entity", entity).
		WithContext("id", id)
}

// ConflictError creates a conflict-related error
func ConflictError(code ErrorCode, detail string) *ReconError {
	var message string
	var suggestion string

	switch code {
	case CodeReplayDivergence:
		message = fmt.Sprintf("replay diverges from the recorded request: %s", detail)
		suggestion = "use a fresh request key for a different payload"
	case CodeDecisionAfterFinal:
		message = fmt.Sprintf("request already decided: %s", detail)
		suggestion = "submit a new request instead of re-deciding this one"
	case CodeUnsupportedDispatch:
		message = fmt.Sprintf("no executor registered for %s", detail)
		suggestion = "register the executor before gating this action"
	case CodeDuplicateEntity:
		message = fmt.Sprintf("duplicate entity: %s", detail)
		suggestion = "use a unique code"
	default:
		message = detail
		suggestion = "retry with the current state"
	}

	return New(CategoryConflict, code, message).WithSuggestion(suggestion)
}

// GovernancePendingError marks an operation blocked behind a pending
// approval request.
func GovernancePendingError(requestID uint) *ReconError {
	return New(CategoryGovernance, CodePendingApproval,
		fmt.Sprintf("operation is pending approval request %d", requestID)).
		WithSuggestion("decide the pending request first").
		WithContext("request_id", requestID)
}

// EngineError wraps an executor failure captured in-band during a run.
func EngineError(operation string, err error) *ReconError {
	result := Wrap(err, CategoryEngine, CodeApplyError,
		fmt.Sprintf("executor failed during %s", operation))
	if result == nil {
		result = New(CategoryEngine, CodeApplyError,
			fmt.Sprintf("executor failed during %s", operation))
	}
	return result.WithContext("operation", operation)
}

// ConfigurationError creates a configuration-related error
func ConfigurationError(code ErrorCode, setting string, value interface{}) *ReconError {
	var message string
	var suggestion string

	switch code {
	case CodeMissingConfig:
		message = fmt.Sprintf("missing required configuration: %s", setting)
		suggestion = "provide this configuration setting or use a config file"
	default:
		message = fmt.Sprintf("invalid configuration for '%s': %v", setting, value)
		suggestion = "check the configuration documentation for valid values"
	}

	return New(CategoryConfiguration, code, message).
		WithSuggestion(suggestion).
		WithContext("setting", setting).
		WithContext("value", value)
}

// InternalError creates an internal error
func InternalError(operation string, err error) *ReconError {
	message := fmt.Sprintf("unexpected error during %s", operation)

	var result *ReconError
	if err != nil {
		result = Wrap(err, CategoryInternal, CodeUnexpectedError, message)
	} else {
		result = New(CategoryInternal, CodeUnexpectedError, message)
	}

	return result.
		WithSuggestion("this is likely a bug - please report it with the error details").
		WithContext("operation", operation)
}

// StorageError wraps a persistence failure.
func StorageError(operation string, err error) *ReconError {
	result := Wrap(err, CategoryInternal, CodeStorageError,
		fmt.Sprintf("storage failure during %s", operation))
	if result == nil {
		result = New(CategoryInternal, CodeStorageError,
			fmt.Sprintf("storage failure during %s", operation))
	}
	return result.WithContext("operation", operation)
}

// Utility functions

// IsReconError checks if an error is a ReconError
func IsReconError(err error) bool {
	_, ok := err.(*ReconError)
	return ok
}

// AsReconError extracts a ReconError from an error chain
func AsReconError(err error) (*ReconError, bool) {
	var reconErr *ReconError
	if errors.As(err, &reconErr) {
		return reconErr, true
	}
	return nil, false
}

// HasCategory reports whether err carries a ReconError of the category.
func HasCategory(err error, category ErrorCategory) bool {
	if re, ok := AsReconError(err); ok {
		return re.Category == category
	}
	return false
}

// WrapIfNeeded wraps an error if it's not already a ReconError
func WrapIfNeeded(err error, category ErrorCategory, code ErrorCode, message string) *ReconError {
	if err == nil {
		return nil
	}

	if reconErr, ok := AsReconError(err); ok {
		return reconErr
	}

	return Wrap(err, category, code, message)
}
