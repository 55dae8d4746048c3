package peripheral

import (
	"context"

	"github.com/go-ble/ble"
)

// StatusFailure is the ATT status answered to unsupported requests.
const StatusFailure = ble.ErrUnlikely

// RequestHandler receives GATT server events. Backends call it from a single
// goroutine at a time, request IDs are backend-assigned and opaque.
type RequestHandler interface {
	OnConnectionStateChange(dev Device, state ConnectionState)
	OnCharacteristicReadRequest(dev Device, requestID int, offset int, char ble.UUID)
	OnCharacteristicWriteRequest(dev Device, requestID int, char ble.UUID, responseNeeded bool, offset int, value []byte)
	OnDescriptorReadRequest(dev Device, requestID int, offset int, desc ble.UUID)
	OnDescriptorWriteRequest(dev Device, requestID int, desc ble.UUID, responseNeeded bool, offset int, value []byte)
}

// Link is the outbound half of an open GATT server.
// Both calls hand data off asynchronously and must not block on the peer.
type Link interface {
	SendResponse(dev Device, requestID int, status ble.ATTError, offset int, value []byte) error
	Notify(dev Device, char ble.UUID, value []byte) error
}

// GattServer registers the topology with the platform.
type GattServer interface {
	OpenGattServer(def Definition, h RequestHandler) (Link, error)
	CloseGattServer() error
}

// Advertisement is what the advertiser puts on air.
type Advertisement struct {
	LocalName string
	Services  []ble.UUID
	Settings  AdvertiseSettings
}

// Advertiser broadcasts an Advertisement.
type Advertiser interface {
	// Advertise blocks until ctx is done or advertising fails.
	Advertise(ctx context.Context, adv Advertisement) error
}

// Adapter is a platform Bluetooth adapter acquired for one Active session.
type Adapter interface {
	Advertiser
	GattServer
	Release() error
}

// AdapterFactory acquires the local adapter. It returns (nil, nil) when no
// adapter is present.
type AdapterFactory func() (Adapter, error)
