package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-ble/ble"
	"github.com/srg/blemote/pkg/peripheral"
)

// Device is the part of ble.Device the peripheral role needs.
type Device interface {
	AddService(svc *ble.Service) error
	RemoveAllServices() error
	AdvertiseNameAndServices(ctx context.Context, name string, uuids ...ble.UUID) error
	Stop() error
}

// Options select the local controller.
type Options struct {
	// DeviceID is the HCI index on Linux (hci0 = 0). Ignored elsewhere.
	DeviceID int
}

// errNoDevice marks a platform that has no Bluetooth controller at all.
var errNoDevice = errors.New("no bluetooth controller")

// NormalizeError maps known go-ble error strings to peripheral errors.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "no devices available"),
		containsIgnoreCase(msg, "no such device"):
		return fmt.Errorf("%w: %v", errNoDevice, err)
	case containsIgnoreCase(msg, "is Bluetooth turned on"),
		containsIgnoreCase(msg, "bluetooth is turned off"),
		containsIgnoreCase(msg, "operation not permitted"),
		containsIgnoreCase(msg, "can't init hci"):
		return fmt.Errorf("%w: %v", peripheral.ErrAdapterUnavailable, err)
	default:
		return err
	}
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
