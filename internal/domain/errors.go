package domain

import (
	"errors"
	"fmt"
)

// ErrNoProvider reports that no registered provider is available for a role.
var ErrNoProvider = errors.New("no provider available")

// Position error codes, numbered as in the W3C Geolocation API.
const (
	CodeUnknown             = 0
	CodePermissionDenied    = 1
	CodePositionUnavailable = 2
	CodeTimeout             = 3
)

// PositionError is delivered to location error callbacks.
type PositionError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *PositionError) Error() string {
	return fmt.Sprintf("position error %d: %s", e.Code, e.Message)
}

// ErrTimeout is the canonical timeout error for location callbacks.
func ErrTimeout() *PositionError {
	return &PositionError{Code: CodeTimeout, Message: "Timeout"}
}

// ErrUnavailable is the canonical "position unavailable" error.
func ErrUnavailable(msg string) *PositionError {
	if msg == "" {
		msg = "Position unavailable"
	}
	return &PositionError{Code: CodePositionUnavailable, Message: msg}
}

// GeocodeError is delivered to geocode callbacks on transport or backend
// failure. Details holds whatever the backend or transport reported.
type GeocodeError struct {
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func (e *GeocodeError) Error() string {
	if err, ok := e.Details.(error); ok {
		return e.Message + ": " + err.Error()
	}
	if e.Details != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Details)
	}
	return e.Message
}

func (e *GeocodeError) Unwrap() error {
	err, _ := e.Details.(error)
	return err
}
