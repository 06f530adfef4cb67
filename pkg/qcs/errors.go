package qcs

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the client packages.
var (
	ErrNoCredentials            = errors.New("no credentials configured")
	ErrInvalidConfig            = errors.New("invalid config")
	ErrUnauthorized             = errors.New("unauthorized")
	ErrServerResponse           = errors.New("server response")
	ErrMissingProperty          = errors.New("missing required property")
	ErrNoConfirmedReservations  = errors.New("request completed without confirmed reservations in response")
	ErrNoActiveReservations     = errors.New("reservation(s) found, but none that are active")
	ErrLatticeRequired          = errors.New("lattice is required")
	ErrInvalidDuration          = errors.New("invalid duration")
	ErrInvalidStartTime         = errors.New("invalid start time")
	ErrInvalidSelection         = errors.New("invalid selection")
	ErrInvalidAvailabilityQuery = errors.New("invalid availability request")
	ErrInvalidServiceConfig     = errors.New("invalid service config")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}

// ServerResponseError formats the status text the service attached to an error payload.
func ServerResponseError(status string) error {
	return fmt.Errorf("%w: %q", ErrServerResponse, status)
}

// MissingPropertyError names the property absent from a success payload.
func MissingPropertyError(property string) error {
	return fmt.Errorf("%w '%s'", ErrMissingProperty, property)
}
