package errors

import (
	"fmt"
	"net/http"

	"github.com/cockroachdb/errors"
)

// Error kinds surfaced to callers. Every error leaving a service is marked with
// exactly one of them.
var (
	ErrValidation       = new(ErrCodeValidation, "validation error")
	ErrVersionConflict  = new(ErrCodeVersionConflict, "version conflict")
	ErrPayment          = new(ErrCodePayment, "payment error")
	ErrInvalidOperation = new(ErrCodeInvalidOperation, "invalid operation")
	ErrStateTransition  = new(ErrCodeStateTransition, "invalid state transition")
	ErrNotFound         = new(ErrCodeNotFound, "resource not found")
	ErrInvalidState     = new(ErrCodeInvalidState, "invalid state")
	ErrPermissionDenied = new(ErrCodePermissionDenied, "permission denied")
	ErrDatabase         = new(ErrCodeDatabase, "database error")
	ErrSystem           = new(ErrCodeSystemError, "system error")

	// ordered so that the most specific kind wins when an error carries several marks
	kinds = []*InternalError{
		ErrValidation,
		ErrVersionConflict,
		ErrPayment,
		ErrInvalidOperation,
		ErrStateTransition,
		ErrNotFound,
		ErrInvalidState,
		ErrPermissionDenied,
		ErrDatabase,
		ErrSystem,
	}

	statusCodeMap = map[error]int{
		ErrValidation:       http.StatusUnprocessableEntity,
		ErrVersionConflict:  http.StatusConflict,
		ErrPayment:          http.StatusPaymentRequired,
		ErrInvalidOperation: http.StatusUnprocessableEntity,
		ErrStateTransition:  http.StatusConflict,
		ErrNotFound:         http.StatusNotFound,
		ErrInvalidState:     http.StatusInternalServerError,
		ErrPermissionDenied: http.StatusForbidden,
		ErrDatabase:         http.StatusInternalServerError,
		ErrSystem:           http.StatusInternalServerError,
	}
)

const (
	ErrCodeValidation       = "validation_error"
	ErrCodeVersionConflict  = "conflict"
	ErrCodePayment          = "payment_error"
	ErrCodeInvalidOperation = "invalid_operation"
	ErrCodeStateTransition  = "state_error"
	ErrCodeNotFound         = "not_found"
	ErrCodeInvalidState     = "invalid_state"
	ErrCodePermissionDenied = "permission_denied"
	ErrCodeDatabase         = "database_error"
	ErrCodeSystemError      = "system_error"
)

// InternalError is a sentinel error kind.
type InternalError struct {
	Code    string // Machine-readable error code
	Message string // Human-readable error message
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is implements error matching for marked errors
func (e *InternalError) Is(target error) bool {
	t, ok := target.(*InternalError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func new(code string, message string) *InternalError {
	return &InternalError{
		Code:    code,
		Message: message,
	}
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

func Is(err, reference error) bool {
	return errors.Is(err, reference)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

func IsPayment(err error) bool {
	return errors.Is(err, ErrPayment)
}

func IsInvalidOperation(err error) bool {
	return errors.Is(err, ErrInvalidOperation)
}

func IsStateTransition(err error) bool {
	return errors.Is(err, ErrStateTransition)
}

func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}

// KindOf returns the machine-readable code of the first kind err is marked with.
// Unmarked errors are reported as system errors.
func KindOf(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k.Code
		}
	}
	return ErrCodeSystemError
}

func HTTPStatusFromErr(err error) int {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return statusCodeMap[k]
		}
	}
	return http.StatusInternalServerError
}
