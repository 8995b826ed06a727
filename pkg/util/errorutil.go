package util

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// pgUniqueViolation is Postgres SQLSTATE 23505.
const pgUniqueViolation = "23505"

// IsUniqueViolation reports whether err is a Postgres unique-constraint
// violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError("VALIDATION_FAILED", message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError("UNAUTHORIZED", message, http.StatusUnauthorized, nil)
}

func NewInvalidCredentials() error {
	return NewDomainError("INVALID_CREDENTIALS", "invalid email or password", http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError("FORBIDDEN", message, http.StatusForbidden, nil)
}

func NewConflict(message string, details map[string]any) error {
	return NewDomainError("CONFLICT", message, http.StatusConflict, details)
}

// NewNetworkError marks a gateway request that never produced a response.
func NewNetworkError(err error) error {
	return &DomainError{
		Code:       "NETWORK_ERROR",
		Message:    "authentication service unreachable",
		HTTPStatus: http.StatusBadGateway,
		Err:        err,
	}
}

// NewBridgeTimeout marks a cross-context call that exceeded its deadline.
func NewBridgeTimeout(operation string) error {
	return NewDomainError("BRIDGE_TIMEOUT", fmt.Sprintf("bridge call %s timed out", operation), http.StatusGatewayTimeout, nil)
}

// NewStorageUnavailable marks a privileged-store failure; callers degrade to
// a session-only identity instead of failing.
func NewStorageUnavailable(err error) error {
	return &DomainError{
		Code:       "STORAGE_UNAVAILABLE",
		Message:    "identity storage unavailable",
		HTTPStatus: http.StatusServiceUnavailable,
		Err:        err,
	}
}

// NewTransferFailed marks an ownership migration that did not complete. The
// issued permanent identity stays valid; callers surface a warning only.
func NewTransferFailed(err error) error {
	return &DomainError{
		Code:       "TRANSFER_FAILED",
		Message:    "product ownership transfer did not complete",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       "INTERNAL_ERROR",
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	if errors.Is(err, pgx.ErrNoRows) {
		if de, ok := NewNotFound("resource", nil).(*DomainError); ok {
			return de
		}
	}
	if IsUniqueViolation(err) {
		return &DomainError{
			Code:       "CONFLICT",
			Message:    "resource already exists",
			HTTPStatus: http.StatusConflict,
			Err:        err,
		}
	}
	return &DomainError{
		Code:       "INTERNAL_ERROR",
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

func MapError(err error) error {
	return ToDomainError(err)
}

// CodeOf extracts the domain error code, or INTERNAL_ERROR for foreign errors.
func CodeOf(err error) string {
	return ToDomainError(err).Code
}

// IsCode reports whether err carries the given domain error code.
func IsCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		return false
	}
	return domainErr.Code == code
}
