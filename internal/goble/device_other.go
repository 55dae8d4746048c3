//go:build !linux && !darwin

package goble

import "fmt"

var DeviceFactory = func(_ Options) (Device, error) {
	return nil, fmt.Errorf("%w: go-ble supports linux and darwin only", errNoDevice)
}
