// internal/services/errors.go
package services

import (
	"errors"
	"fmt"
)

// ErrorCode is the stable machine-readable code surfaced to callers in the
// result envelope. HTTP status mapping happens at the handler boundary.
type ErrorCode string

const (
	CodeNotFound              ErrorCode = "NOT_FOUND"
	CodeInvalidTransition     ErrorCode = "INVALID_TRANSITION"
	CodeIncompleteApplication ErrorCode = "INCOMPLETE_APPLICATION"
	CodeNotEligible           ErrorCode = "NOT_ELIGIBLE"
	CodeConflict              ErrorCode = "CONFLICT"
	CodeUnauthorized          ErrorCode = "UNAUTHORIZED"
	CodeAttachmentError       ErrorCode = "ATTACHMENT_ERROR"
	CodeGenerationFailed      ErrorCode = "GENERATION_FAILED"
)

// DomainError is a validation or state error detected by the lifecycle
// engine and returned synchronously. It never wraps an infrastructure
// failure; those propagate as plain errors.
type DomainError struct {
	Code    ErrorCode
	Message string
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newDomainError(code ErrorCode, format string, args ...interface{}) *DomainError {
	return &DomainError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func ErrNotFound(format string, args ...interface{}) *DomainError {
	return newDomainError(CodeNotFound, format, args...)
}

func ErrInvalidTransition(format string, args ...interface{}) *DomainError {
	return newDomainError(CodeInvalidTransition, format, args...)
}

func ErrIncompleteApplication(format string, args ...interface{}) *DomainError {
	return newDomainError(CodeIncompleteApplication, format, args...)
}

func ErrNotEligible(format string, args ...interface{}) *DomainError {
	return newDomainError(CodeNotEligible, format, args...)
}

func ErrConflict(format string, args ...interface{}) *DomainError {
	return newDomainError(CodeConflict, format, args...)
}

func ErrUnauthorized(format string, args ...interface{}) *DomainError {
	return newDomainError(CodeUnauthorized, format, args...)
}

func ErrAttachment(format string, args ...interface{}) *DomainError {
	return newDomainError(CodeAttachmentError, format, args...)
}

// CodeOf extracts the domain error code from err, or "" when err is not a
// DomainError.
func CodeOf(err error) ErrorCode {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}
