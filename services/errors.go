package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeExternal   ErrorType = "external"
)

// DomainError represents a structured error with additional context.
// Message is safe to show to API clients; Err is for logs only.
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

// Is matches another DomainError of the same type and message
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type && (t.Message == "" || e.Message == t.Message)
}

// WithDetail returns a copy of the error with an added detail
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	details := make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	return &DomainError{Type: e.Type, Message: e.Message, Err: e.Err, Details: details}
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
	}
}

// Domain error variables

var (
	// Not Found Errors
	ErrUserNotFound = NewDomainError(ErrorTypeNotFound, "Keycloak user not found", nil)
	ErrRoleNotFound = NewDomainError(ErrorTypeNotFound, "Role not found", nil)

	// Validation Errors
	ErrInvalidInput  = NewDomainError(ErrorTypeValidation, "invalid input", nil)
	ErrInvalidUserID = NewDomainError(ErrorTypeValidation, "invalid user id", nil)

	// Conflict Errors
	ErrUserAlreadyExists = NewDomainError(ErrorTypeConflict, "User already exists in Keycloak", nil)

	// External Errors
	ErrAdminTokenFailed = NewDomainError(ErrorTypeExternal, "Failed to obtain Keycloak admin token", nil)
	ErrKeycloakRequest  = NewDomainError(ErrorTypeExternal, "Keycloak admin request failed", nil)
)

// Error type checking helper functions

func isType(err error, t ErrorType) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == t
	}
	return false
}

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool { return isType(err, ErrorTypeNotFound) }

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool { return isType(err, ErrorTypeValidation) }

// IsConflictError checks if an error is a conflict error
func IsConflictError(err error) bool { return isType(err, ErrorTypeConflict) }

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool { return isType(err, ErrorTypeInternal) }

// IsExternalError checks if an error is an upstream error
func IsExternalError(err error) bool { return isType(err, ErrorTypeExternal) }

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorMessage returns the client-safe message of a domain error
func GetErrorMessage(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Message
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

// Wrap returns a copy of base that carries err as its cause
func Wrap(base *DomainError, err error) error {
	return &DomainError{Type: base.Type, Message: base.Message, Err: err, Details: base.Details}
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}
