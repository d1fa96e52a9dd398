package rest

import (
	"errors"
	"fmt"
)

// Failure taxonomy for fallback calls. Server-returned failures are
// classified by status; network-level failures (no response received)
// are a TransportError, distinct from all of these.
var (
	ErrAuthRequired     = errors.New("authentication required")
	ErrPermissionDenied = errors.New("permission denied")
	ErrServer           = errors.New("server error")
)

// APIError is a server-returned failure that is neither an auth problem
// nor a 5xx: the envelope said no and gave a reason.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error (status %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api error (status %d)", e.Status)
}

// TransportError is a network-level failure: the request never produced
// a response envelope.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Presentable maps any failure from this package to a stable message
// suitable for direct display.
func Presentable(err error) string {
	var apiErr *APIError
	var netErr *TransportError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuthRequired):
		return "Your session has expired. Please sign in again."
	case errors.Is(err, ErrPermissionDenied):
		return "You don't have access to this conversation."
	case errors.Is(err, ErrServer):
		return "Something went wrong on our side. Please try again."
	case errors.As(err, &netErr):
		return "Could not reach the server. Check your connection."
	case errors.As(err, &apiErr) && apiErr.Message != "":
		return apiErr.Message
	default:
		return "The request could not be completed."
	}
}
