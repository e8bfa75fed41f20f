package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error code
type ErrorCode int

const (
	ErrValidation ErrorCode = iota + 1000
	ErrNotFound
	ErrAccessDenied
	ErrOverrideRejected
	ErrAuditUnavailable
	ErrInternal
)

// Override rejection reasons
const (
	ReasonJustificationTooShort = "JUSTIFICATION_TOO_SHORT"
	ReasonRoleNotEligible       = "ROLE_NOT_ELIGIBLE"
	ReasonAbuseLockout          = "ABUSE_LOCKOUT"
)

// AppError represents an application error. Ordinary policy denials are
// never AppErrors: a denial is a valid evaluation outcome and travels as
// data. AppErrors cover malformed requests, missing resources and
// infrastructure faults, all of which fail closed at the boundary.
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Reason  string    `json:"reason,omitempty"`
	Err     error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func Validation(message string, err error) *AppError {
	return &AppError{
		Code:    ErrValidation,
		Message: message,
		Err:     err,
	}
}

// NotFound is raised when a resource is absent or referenced across a
// tenant boundary. Handlers map it to the same response as a policy
// denial so existence cannot be inferred.
func NotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

// AccessDenied covers access failures outside the decision flow, such as
// querying the audit trail without the right role.
func AccessDenied(message string) *AppError {
	return &AppError{
		Code:    ErrAccessDenied,
		Message: message,
	}
}

func OverrideRejected(reason string, err error) *AppError {
	return &AppError{
		Code:    ErrOverrideRejected,
		Message: "override request rejected",
		Reason:  reason,
		Err:     err,
	}
}

func AuditUnavailable(err error) *AppError {
	return &AppError{
		Code:    ErrAuditUnavailable,
		Message: "audit trail unavailable",
		Err:     err,
	}
}

func Internal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: "internal server error",
		Err:     err,
	}
}

// As unwraps err into an *AppError if one is in the chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}
