package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound      ErrorType = "not_found"
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeIncomplete    ErrorType = "incomplete"
	ErrorTypeUnauthorized  ErrorType = "unauthorized"
	ErrorTypeForbidden     ErrorType = "forbidden"
	ErrorTypeConflict      ErrorType = "conflict"
	ErrorTypeConfiguration ErrorType = "configuration"
	ErrorTypeInternal      ErrorType = "internal"
	ErrorTypeExternal      ErrorType = "external"
)

// DomainError represents a structured error with additional context.
// Code narrows a Type to one specific failure (e.g. crm_unavailable vs
// identity_provider_unavailable, both external).
type DomainError struct {
	Type    ErrorType
	Code    string
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

// Is implements errors.Is. A target without a Code matches any error of the
// same Type; a target with a Code only matches that code.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	if e.Type != t.Type {
		return false
	}
	return t.Code == "" || e.Code == t.Code
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

func newCodedError(errType ErrorType, code, message string) *DomainError {
	e := NewDomainError(errType, message, nil)
	e.Code = code
	return e
}

// Error codes
const (
	CodeIncompleteEvent             = "incomplete_event"
	CodeIdentityProviderUnavailable = "identity_provider_unavailable"
	CodeCrmUnavailable              = "crm_unavailable"
	CodeCrmRejected                 = "crm_rejected"
	CodeAlreadySubscribed           = "already_subscribed"
	CodeProductNotConfigured        = "product_not_configured"
	CodePricingNotConfigured        = "pricing_not_configured"
	CodeUserNotFound                = "user_not_found"
	CodeContactNotFound             = "contact_not_found"
	CodeCountryNotFound             = "country_not_found"
	CodeUnknownClient               = "unknown_client"
)

// Domain error variables

var (
	// Not Found Errors
	ErrUserNotFound    = newCodedError(ErrorTypeNotFound, CodeUserNotFound, "user not found")
	ErrContactNotFound = newCodedError(ErrorTypeNotFound, CodeContactNotFound, "contact not found")
	ErrCountryNotFound = newCodedError(ErrorTypeNotFound, CodeCountryNotFound, "country not found")

	// Validation Errors
	ErrInvalidInput    = NewDomainError(ErrorTypeValidation, "invalid input", nil)
	ErrInvalidEmail    = NewDomainError(ErrorTypeValidation, "invalid email format", nil)
	ErrInvalidAction   = NewDomainError(ErrorTypeValidation, "unsupported action", nil)
	ErrUnknownClient   = newCodedError(ErrorTypeValidation, CodeUnknownClient, "client has no tracked activity")
	ErrIncompleteEvent = newCodedError(ErrorTypeIncomplete, CodeIncompleteEvent, "event is missing identity fields")

	// Authorization Errors
	ErrUnauthorized = NewDomainError(ErrorTypeUnauthorized, "unauthorized", nil)
	ErrInvalidToken = NewDomainError(ErrorTypeUnauthorized, "invalid authentication token", nil)

	// Permission Errors
	ErrForbidden = NewDomainError(ErrorTypeForbidden, "access forbidden", nil)

	// Conflict Errors
	ErrAlreadySubscribed = newCodedError(ErrorTypeConflict, CodeAlreadySubscribed, "user already has an active subscription")

	// Configuration Errors (CRM catalog misconfiguration)
	ErrProductNotConfigured = newCodedError(ErrorTypeConfiguration, CodeProductNotConfigured, "subscription product not found in CRM")
	ErrPricingNotConfigured = newCodedError(ErrorTypeConfiguration, CodePricingNotConfigured, "subscription product has no pricing")

	// Internal Errors
	ErrInternal      = NewDomainError(ErrorTypeInternal, "internal server error", nil)
	ErrDatabaseError = NewDomainError(ErrorTypeInternal, "database error", nil)

	// External Errors
	ErrCrmUnavailable              = newCodedError(ErrorTypeExternal, CodeCrmUnavailable, "CRM unavailable")
	ErrIdentityProviderUnavailable = newCodedError(ErrorTypeExternal, CodeIdentityProviderUnavailable, "identity provider unavailable")
	ErrCrmRejected                 = newCodedError(ErrorTypeExternal, CodeCrmRejected, "CRM rejected the request")
)

// Error type checking helper functions

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return GetErrorType(err) == ErrorTypeNotFound
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return GetErrorType(err) == ErrorTypeValidation
}

// IsIncompleteError checks if an error reports an event lacking identity fields
func IsIncompleteError(err error) bool {
	return GetErrorType(err) == ErrorTypeIncomplete
}

// IsUnauthorizedError checks if an error is an unauthorized error
func IsUnauthorizedError(err error) bool {
	return GetErrorType(err) == ErrorTypeUnauthorized
}

// IsForbiddenError checks if an error is a forbidden error
func IsForbiddenError(err error) bool {
	return GetErrorType(err) == ErrorTypeForbidden
}

// IsConflictError checks if an error is a conflict error
func IsConflictError(err error) bool {
	return GetErrorType(err) == ErrorTypeConflict
}

// IsConfigurationError checks if an error is a CRM catalog misconfiguration
func IsConfigurationError(err error) bool {
	return GetErrorType(err) == ErrorTypeConfiguration
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return GetErrorType(err) == ErrorTypeInternal
}

// IsExternalError checks if an error is a remote system failure
func IsExternalError(err error) bool {
	return GetErrorType(err) == ErrorTypeExternal
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorCode returns the Code of a domain error, or empty string
func GetErrorCode(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}

// GetErrorMessage returns the Message of a domain error, or empty string
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

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}

// WrapCrmUnavailable wraps a transport or session failure talking to the CRM.
// Passing an error that already is CrmUnavailable returns it unchanged.
func WrapCrmUnavailable(message string, err error) error {
	if errors.Is(err, ErrCrmUnavailable) {
		return err
	}
	e := NewDomainError(ErrorTypeExternal, message, err)
	e.Code = CodeCrmUnavailable
	return e
}

// WrapIdentityProviderUnavailable wraps a failure talking to the identity provider
func WrapIdentityProviderUnavailable(message string, err error) error {
	if errors.Is(err, ErrIdentityProviderUnavailable) {
		return err
	}
	e := NewDomainError(ErrorTypeExternal, message, err)
	e.Code = CodeIdentityProviderUnavailable
	return e
}

// WrapCrmRejected wraps a fault returned by the CRM for a well-formed call
func WrapCrmRejected(message string, err error) error {
	e := NewDomainError(ErrorTypeExternal, message, err)
	e.Code = CodeCrmRejected
	return e
}

// Reject returns a copy of a coded sentinel carrying a request-specific
// message, so the sentinel itself is never mutated by WithDetail.
func Reject(sentinel *DomainError, message string) *DomainError {
	e := NewDomainError(sentinel.Type, message, nil)
	e.Code = sentinel.Code
	return e
}
