package transport

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/MarkoPoloResearchLab/qcs/pkg/qcs"
)

var knownStatusText = map[int]string{
	http.StatusOK:           "OK",
	http.StatusCreated:      "Resource created",
	http.StatusAccepted:     "Resource marked for deletion",
	http.StatusNoContent:    "No content",
	http.StatusBadRequest:   "Bad request",
	http.StatusUnauthorized: "Unauthorized",
	http.StatusForbidden:    "Resource forbidden",
	http.StatusNotFound:     "Not found",
}

// StatusText returns the description used for a known status, or the unexpected-status message otherwise.
func StatusText(statusCode int) string {
	if text, ok := knownStatusText[statusCode]; ok {
		return text
	}
	return fmt.Sprintf("Server responded with unexpected status %d %s", statusCode, http.StatusText(statusCode))
}

// ServerError is the {error_type, status} body the service attaches to business failures.
type ServerError struct {
	ErrorType  string `json:"error_type"`
	Status     string `json:"status"`
	StatusCode int    `json:"-"`
}

// Error returns the formatted error message.
func (serverError *ServerError) Error() string {
	return fmt.Sprintf("%s (%d): %s", serverError.ErrorType, serverError.StatusCode, serverError.Status)
}

// TransportError reports that no response was obtained.
type TransportError struct {
	Method string
	Path   string
	Err    error
}

// Error returns the formatted error message.
func (transportError *TransportError) Error() string {
	return fmt.Sprintf("there was an error communicating with the server (%s %s): %v", transportError.Method, transportError.Path, transportError.Err)
}

// Unwrap returns the underlying network error.
func (transportError *TransportError) Unwrap() error {
	return transportError.Err
}

// StatusError reports a response whose status is not a success.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Text       string
	Server     *ServerError
}

// Error returns the formatted error message.
func (statusError *StatusError) Error() string {
	if statusError.Server != nil && statusError.Server.Status != "" {
		return fmt.Sprintf("%s %s: %s: %s", statusError.Method, statusError.Path, statusError.Text, statusError.Server.Status)
	}
	return fmt.Sprintf("%s %s: %s", statusError.Method, statusError.Path, statusError.Text)
}

// Unwrap exposes the server error body when one was sent.
func (statusError *StatusError) Unwrap() error {
	if statusError.Server == nil {
		return nil
	}
	return statusError.Server
}

// IsAuthFailure reports whether the status triggers the refresh protocol.
func (statusError *StatusError) IsAuthFailure() bool {
	return statusError.StatusCode == http.StatusUnauthorized || statusError.StatusCode == http.StatusForbidden
}

// MalformedResponseError reports a success status whose body is not a JSON object.
type MalformedResponseError struct {
	Method     string
	Path       string
	StatusCode int
	Err        error
}

// Error returns the formatted error message.
func (malformedError *MalformedResponseError) Error() string {
	if malformedError.Err == nil {
		return fmt.Sprintf("%s %s: server did not return a valid JSON response", malformedError.Method, malformedError.Path)
	}
	return fmt.Sprintf("%s %s: server did not return a valid JSON response: %v", malformedError.Method, malformedError.Path, malformedError.Err)
}

// Unwrap returns the decode error.
func (malformedError *MalformedResponseError) Unwrap() error {
	return malformedError.Err
}

// AuthError is a final authentication failure after the refresh protocol ran out.
type AuthError struct {
	QCSURL string
	Err    error
}

// Error returns the failure with re-authentication guidance.
func (authError *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %v; please visit %s/auth/token to update your client credentials", authError.Err, authError.QCSURL)
}

// Unwrap returns the status or refresh failure that ended the request.
func (authError *AuthError) Unwrap() error {
	return authError.Err
}

// Is matches qcs.ErrUnauthorized.
func (authError *AuthError) Is(target error) bool {
	return target == qcs.ErrUnauthorized
}

// IsAuthFailure reports whether err is a 401/403 status error.
func IsAuthFailure(err error) bool {
	var statusError *StatusError
	return errors.As(err, &statusError) && statusError.IsAuthFailure()
}
