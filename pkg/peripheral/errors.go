package peripheral

import (
	"errors"
	"fmt"
)

// ServerState is the kind of GATT server state failure.
type ServerState string

const (
	ServerAlreadyOpen ServerState = "server_already_open"
	ServerNotOpen     ServerState = "server_not_open"
)

// ServerError reports an operation attempted in the wrong server state.
type ServerError struct {
	State ServerState
	Msg   string
}

func (e *ServerError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ServerError values by State
func (e *ServerError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ServerError)
	if !ok {
		return false
	}
	return e.State == t.State
}

var (
	ErrServerAlreadyOpen = &ServerError{State: ServerAlreadyOpen}
	ErrServerNotOpen     = &ServerError{State: ServerNotOpen}
)

var (
	// ErrAdvertiseFailed wraps any failure to bring advertising up.
	ErrAdvertiseFailed = errors.New("advertising failed")

	// ErrAdapterUnavailable is returned by backends when the radio cannot be used.
	ErrAdapterUnavailable = errors.New("bluetooth adapter unavailable")

	// ErrUnknownDevice is returned by links for devices that are not connected.
	ErrUnknownDevice = errors.New("unknown device")
)
