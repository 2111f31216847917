package types

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants. Components use these instead of hardcoded strings so
// the intake API and log pipeline can classify failures consistently.
const (
	// Validation (400)
	ErrCodeValidationBadDelta     ErrorCode = "validation_invalid_delta"
	ErrCodeValidationMissingField ErrorCode = "validation_missing_required_field"

	// Not Found (404)
	ErrCodeNotFoundTask     ErrorCode = "not_found_task"
	ErrCodeNotFoundResource ErrorCode = "not_found_resource"

	// Eligibility (500) -- a failed evaluation blocks a correctness-critical
	// decision and must propagate, never default to "not eligible".
	ErrCodeEligibilityEvaluation ErrorCode = "eligibility_evaluation_failed"

	// Rule refresh (502) -- recoverable; the cache keeps its last-good
	// snapshot and the next scheduled tick retries.
	ErrCodeRuleRefresh ErrorCode = "rule_refresh_failed"

	// Submission (502) -- transient transport or upstream failure,
	// recoverable via the retry budget.
	ErrCodeSubmissionFailed      ErrorCode = "submission_failed"
	ErrCodeSubmissionUnavailable ErrorCode = "submission_endpoint_unavailable"

	// Internal (500)
	ErrCodeInternalDB         ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound
	case c == ErrCodeRuleRefresh,
		c == ErrCodeSubmissionFailed,
		c == ErrCodeSubmissionUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// AppError is the standard application error type. Domain errors are
// expressed as AppError to enable consistent formatting, HTTP status mapping,
// and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// NewAppError creates a new AppError with the given code, message, and
// optional underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
