//go:build linux

package goble

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
)

// DeviceFactory opens the HCI controller. It is a variable so tests can replace it.
var DeviceFactory = func(opts Options) (Device, error) {
	dev, err := linux.NewDevice(ble.OptDeviceID(opts.DeviceID))
	if err != nil {
		return nil, err
	}
	return dev, nil
}
