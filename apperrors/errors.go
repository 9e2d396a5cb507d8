package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds surfaced by the routing and assignment core.
var (
	ErrValidation          = errors.New("validation error")
	ErrIssueNotFound       = errors.New("issue not found")
	ErrOfficerNotFound     = errors.New("officer not found")
	ErrNoAvailableOfficer  = errors.New("no available officer")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrForbidden           = errors.New("forbidden")
)

// AppError carries an error kind together with what the API layer shows the caller.
type AppError struct {
	Err        error             `json:"-"`
	Message    string            `json:"message"`
	Code       string            `json:"code"`
	HTTPStatus int               `json:"-"`
	Details    map[string]string `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	if e.Err != nil && e.Message != e.Err.Error() {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Validation creates a validation error with optional field details
func Validation(message string, details map[string]string) *AppError {
	return &AppError{
		Err:        ErrValidation,
		Message:    message,
		Code:       "VALIDATION_ERROR",
		HTTPStatus: http.StatusBadRequest,
		Details:    details,
	}
}

func IssueNotFound(id string) *AppError {
	return &AppError{
		Err:        ErrIssueNotFound,
		Message:    "Issue not found",
		Code:       "ISSUE_NOT_FOUND",
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]string{"id": id},
	}
}

func OfficerNotFound(id string) *AppError {
	return &AppError{
		Err:        ErrOfficerNotFound,
		Message:    "Officer not found",
		Code:       "OFFICER_NOT_FOUND",
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]string{"id": id},
	}
}

// NoAvailableOfficer is retryable by a human: later, or with a department override.
func NoAvailableOfficer(department string) *AppError {
	return &AppError{
		Err:        ErrNoAvailableOfficer,
		Message:    fmt.Sprintf("No officers available in %s", department),
		Code:       "NO_AVAILABLE_OFFICER",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]string{"department": department},
	}
}

func ConcurrencyConflict(resource, id string) *AppError {
	return &AppError{
		Err:        ErrConcurrencyConflict,
		Message:    fmt.Sprintf("%s was modified concurrently, retry the request", resource),
		Code:       "CONCURRENCY_CONFLICT",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]string{"resource": resource, "id": id},
	}
}

func Forbidden(message string) *AppError {
	return &AppError{
		Err:        ErrForbidden,
		Message:    message,
		Code:       "FORBIDDEN",
		HTTPStatus: http.StatusForbidden,
	}
}

// HTTPStatus maps any error to the status the API should answer with.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.HTTPStatus != 0 {
		return appErr.HTTPStatus
	}
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrIssueNotFound), errors.Is(err, ErrOfficerNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNoAvailableOfficer), errors.Is(err, ErrConcurrencyConflict):
		return http.StatusConflict
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}
