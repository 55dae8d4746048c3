//go:build darwin

package goble

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"
)

// DeviceFactory opens CoreBluetooth in peripheral role. It is a variable so tests can replace it.
var DeviceFactory = func(_ Options) (Device, error) {
	dev, err := darwin.NewDevice(ble.OptPeripheralRole())
	if err != nil {
		return nil, err
	}
	return dev, nil
}
