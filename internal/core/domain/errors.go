package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// PermissionErrorMessage is the user-facing text for ErrPermission.
const PermissionErrorMessage = "User does not have permission to manage webhooks in this room"

var (
	// ErrPermission is returned whenever a user may not manage the hooks of a
	// room. Callers compare with errors.Is and render a dedicated message.
	ErrPermission = errors.New(PermissionErrorMessage)

	// ErrHookNotFound is returned by stores when no hook has the given ID.
	ErrHookNotFound = errors.New("webhook not found")

	// ErrNotJoined is returned when an identity cannot post because it is not
	// a member of the room.
	ErrNotJoined = errors.New("identity is not joined to the room")

	// ErrStateNotFound is returned when a room has no state event of the requested type.
	ErrStateNotFound = errors.New("state event not found")

	// ErrGuestAccessForbidden is returned when the homeserver refuses access to a
	// room the bridge is not allowed to peek into.
	ErrGuestAccessForbidden = errors.New("room is not public or not found")

	// ErrQueueClosed is returned when publishing to a closed dispatch queue.
	ErrQueueClosed = errors.New("dispatch queue closed")
)

// ErrorType represents the category of an API error.
type ErrorType string

const (
	// ErrorTypeInvalidRequest indicates a malformed or invalid request.
	ErrorTypeInvalidRequest ErrorType = "invalid_request"

	// ErrorTypeAuthentication indicates a missing or wrong shared secret.
	ErrorTypeAuthentication ErrorType = "authentication"

	// ErrorTypePermission indicates the user lacks power in the room.
	ErrorTypePermission ErrorType = "permission"

	// ErrorTypeNotFound indicates a resource was not found.
	ErrorTypeNotFound ErrorType = "not_found"

	// ErrorTypeServer indicates an internal server error.
	ErrorTypeServer ErrorType = "server"
)

// APIError is an error that knows how it should be rendered over HTTP.
type APIError struct {
	// Type is the category of error
	Type ErrorType `json:"type"`

	// Message is the human-readable error message
	Message string `json:"message"`

	// StatusCode is the suggested HTTP status code
	StatusCode int `json:"-"`

	cause error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap exposes the underlying cause, if any.
func (e *APIError) Unwrap() error {
	return e.cause
}

// HTTPStatusCode returns the appropriate HTTP status code for this error.
func (e *APIError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}

	switch e.Type {
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeAuthentication:
		return http.StatusForbidden
	case ErrorTypePermission:
		// Permission failures are reported as bad requests by the provisioning API.
		return http.StatusBadRequest
	case ErrorTypeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// NewAPIError creates a new API error.
func NewAPIError(errType ErrorType, message string) *APIError {
	return &APIError{
		Type:    errType,
		Message: message,
	}
}

// WithStatusCode sets a specific HTTP status code.
func (e *APIError) WithStatusCode(code int) *APIError {
	e.StatusCode = code
	return e
}

// WithCause records the error that produced this one.
func (e *APIError) WithCause(err error) *APIError {
	e.cause = err
	return e
}

// ErrInvalidRequest creates an invalid request error.
func ErrInvalidRequest(message string) *APIError {
	return NewAPIError(ErrorTypeInvalidRequest, message)
}

// ErrAuthentication creates an authentication error.
func ErrAuthentication(message string) *APIError {
	return NewAPIError(ErrorTypeAuthentication, message)
}

// ErrServer creates a server error.
func ErrServer(message string) *APIError {
	return NewAPIError(ErrorTypeServer, message)
}
