package services

import (
	"context"
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound         ErrorType = "not_found"
	ErrorTypeDuplicateName    ErrorType = "duplicate_name"
	ErrorTypeDuplicateEmail   ErrorType = "duplicate_email"
	ErrorTypeInvalidValue     ErrorType = "invalid_value"
	ErrorTypeRoleNotFound     ErrorType = "role_not_found"
	ErrorTypeReferencedByUser ErrorType = "referenced_by_user"
	ErrorTypeVersionConflict  ErrorType = "version_conflict"
	ErrorTypeTimeout          ErrorType = "timeout"
	ErrorTypeValidation       ErrorType = "validation"
	ErrorTypeInternal         ErrorType = "internal"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Domain error variables. They are matched by type with errors.Is and must not
// be decorated with WithDetail; use the constructors below for that.

var (
	// Not Found Errors
	ErrRoleNotFound = NewDomainError(ErrorTypeNotFound, "role not found", nil)
	ErrUserNotFound = NewDomainError(ErrorTypeNotFound, "user not found", nil)

	// Uniqueness Errors
	ErrDuplicateName  = NewDomainError(ErrorTypeDuplicateName, "role name already exists", nil)
	ErrDuplicateEmail = NewDomainError(ErrorTypeDuplicateEmail, "email already exists", nil)

	// Value Errors
	ErrInvalidValue = NewDomainError(ErrorTypeInvalidValue, "invalid resource or permission", nil)
	ErrInvalidInput = NewDomainError(ErrorTypeValidation, "invalid input", nil)

	// Reference Errors
	ErrRoleReferenceNotFound = NewDomainError(ErrorTypeRoleNotFound, "referenced role does not exist", nil)
	ErrReferencedByUser      = NewDomainError(ErrorTypeReferencedByUser, "role is assigned to at least one user", nil)

	// Concurrency Errors
	ErrVersionConflict = NewDomainError(ErrorTypeVersionConflict, "entity was modified concurrently", nil)
	ErrTimeout         = NewDomainError(ErrorTypeTimeout, "timed out waiting for entity ownership", nil)

	// Internal Errors
	ErrInternal      = NewDomainError(ErrorTypeInternal, "internal server error", nil)
	ErrPersistFailed = NewDomainError(ErrorTypeInternal, "failed to persist change", nil)
)

// NewNotFoundError builds a not_found error for the given entity
func NewNotFoundError(entity string, id fmt.Stringer) *DomainError {
	return NewDomainError(ErrorTypeNotFound, entity+" not found", nil).
		WithDetail("entity", entity).
		WithDetail("id", id.String())
}

// NewVersionConflictError builds a version_conflict error carrying both versions
func NewVersionConflictError(entity string, id fmt.Stringer, expected, actual int64) *DomainError {
	return NewDomainError(ErrorTypeVersionConflict,
		fmt.Sprintf("%s was modified concurrently: expected version %d, current version %d", entity, expected, actual), nil).
		WithDetail("entity", entity).
		WithDetail("id", id.String()).
		WithDetail("expected_version", expected).
		WithDetail("current_version", actual)
}

// NewInvalidValueError wraps a vocabulary error as invalid_value
func NewInvalidValueError(err error) *DomainError {
	domainErr := NewDomainError(ErrorTypeInvalidValue, "invalid resource or permission", err)
	if err != nil {
		domainErr.WithDetail("reason", err.Error())
	}
	return domainErr
}

// NewValidationError builds a validation error for a single field
func NewValidationError(field, message string) *DomainError {
	return NewDomainError(ErrorTypeValidation, message, nil).WithDetail(field, message)
}

// NewTimeoutError wraps a context error as timeout
func NewTimeoutError(err error) *DomainError {
	return NewDomainError(ErrorTypeTimeout, "timed out waiting for entity ownership", err)
}

// Error type checking helper functions

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return hasType(err, ErrorTypeNotFound)
}

// IsDuplicateNameError checks if an error is a duplicate role name error
func IsDuplicateNameError(err error) bool {
	return hasType(err, ErrorTypeDuplicateName)
}

// IsDuplicateEmailError checks if an error is a duplicate email error
func IsDuplicateEmailError(err error) bool {
	return hasType(err, ErrorTypeDuplicateEmail)
}

// IsInvalidValueError checks if an error is an invalid resource/permission error
func IsInvalidValueError(err error) bool {
	return hasType(err, ErrorTypeInvalidValue)
}

// IsRoleNotFoundError checks if an error reports a dangling role reference
func IsRoleNotFoundError(err error) bool {
	return hasType(err, ErrorTypeRoleNotFound)
}

// IsReferencedByUserError checks if an error is a referenced-by-user error
func IsReferencedByUserError(err error) bool {
	return hasType(err, ErrorTypeReferencedByUser)
}

// IsVersionConflictError checks if an error is a version conflict error
func IsVersionConflictError(err error) bool {
	return hasType(err, ErrorTypeVersionConflict)
}

// IsTimeoutError checks if an error is a timeout error
func IsTimeoutError(err error) bool {
	return hasType(err, ErrorTypeTimeout)
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return hasType(err, ErrorTypeValidation)
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return hasType(err, ErrorTypeInternal)
}

func hasType(err error, t ErrorType) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == t
	}
	return false
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}

// WrapContextError maps context cancellation and deadline errors to timeout,
// leaving any other error untouched
func WrapContextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewTimeoutError(err)
	}
	return err
}
