package main

import (
	"errors"
	"fmt"

	"github.com/srg/blemote/internal/bluez"
	"github.com/srg/blemote/internal/input"
	"github.com/srg/blemote/internal/sim"
	"github.com/srg/blemote/pkg/payload"
	"github.com/srg/blemote/pkg/peripheral"
)

// Command-level errors
var (
	ErrInvalidFormat = errors.New("invalid output format")
)

// FormatUserError turns internal errors into a one-line message with a hint
// where one helps.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var lineErr *input.LineError
	switch {
	case errors.Is(err, peripheral.ErrAdapterUnavailable):
		return fmt.Sprintf("%v (is Bluetooth turned on and accessible to this user?)", err)
	case errors.Is(err, bluez.ErrBusClosed):
		return fmt.Sprintf("%v (is bluetoothd running?)", err)
	case errors.Is(err, sim.ErrExpectation):
		return "scenario expectations not met, see the transcript above"
	case errors.As(err, &lineErr):
		return fmt.Sprintf("input line %d: %v", lineErr.Line, lineErr.Err)
	case errors.Is(err, payload.ErrUnknownField):
		return fmt.Sprintf("%v (see 'blemote layout' for field names)", err)
	default:
		return err.Error()
	}
}
