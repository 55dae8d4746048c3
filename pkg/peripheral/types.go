package peripheral

import (
	"fmt"
	"strings"

	"github.com/go-ble/ble"
)

// Device is an opaque identifier of a connected central, usually its address.
type Device string

// ConnectionState is the link state reported by the platform.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connected
)

func (s ConnectionState) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

// AdapterState is the radio power state of the local Bluetooth adapter.
type AdapterState int

const (
	AdapterOff AdapterState = iota
	AdapterOn
)

func (s AdapterState) String() string {
	if s == AdapterOn {
		return "on"
	}
	return "off"
}

// ParseAdapterState accepts on/off and the usual boolean spellings.
func ParseAdapterState(s string) (AdapterState, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "true", "1", "powered":
		return AdapterOn, nil
	case "off", "false", "0", "unpowered":
		return AdapterOff, nil
	default:
		return AdapterOff, fmt.Errorf("invalid adapter state: %q", s)
	}
}

// State is the lifecycle state of the Controller.
type State int

const (
	Inactive State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "inactive"
}

// Permission is an attribute access permission.
type Permission uint8

const (
	PermRead Permission = 1 << iota
	PermWrite
)

func (p Permission) String() string {
	var parts []string
	if p&PermRead != 0 {
		parts = append(parts, "read")
	}
	if p&PermWrite != 0 {
		parts = append(parts, "write")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// DescriptorDef describes the notification configuration descriptor.
type DescriptorDef struct {
	UUID        ble.UUID
	Permissions Permission
}

// Definition is the fixed GATT topology: one service, one characteristic, one descriptor.
type Definition struct {
	Service        ble.UUID
	Characteristic ble.UUID
	Properties     ble.Property
	Permissions    Permission
	Descriptor     DescriptorDef
}

// NewDefinition returns the READ|NOTIFY topology for the given UUIDs.
func NewDefinition(service, characteristic ble.UUID) Definition {
	return Definition{
		Service:        service,
		Characteristic: characteristic,
		Properties:     ble.CharRead | ble.CharNotify,
		Permissions:    PermRead,
		Descriptor: DescriptorDef{
			UUID:        CCCDUUID,
			Permissions: PermRead | PermWrite,
		},
	}
}

// DefaultDefinition uses DefaultServiceUUID and DefaultCharacteristicUUID.
func DefaultDefinition() Definition {
	return NewDefinition(DefaultServiceUUID, DefaultCharacteristicUUID)
}
