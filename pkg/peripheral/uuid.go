package peripheral

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/go-ble/ble"
)

var (
	// DefaultServiceUUID is the primary service advertised by the peripheral.
	DefaultServiceUUID = ble.MustParse("0000bee1-0000-1000-8000-00805f9b34fb")

	// DefaultCharacteristicUUID is the READ|NOTIFY characteristic carrying the payload.
	DefaultCharacteristicUUID = ble.MustParse("0000bee2-0000-1000-8000-00805f9b34fb")

	// CCCDUUID is the Client Characteristic Configuration descriptor.
	CCCDUUID = ble.ClientCharacteristicConfigUUID

	// EnableNotificationValue is written to the CCCD to subscribe.
	EnableNotificationValue = []byte{0x01, 0x00}

	// DisableNotificationValue is written to the CCCD to unsubscribe.
	DisableNotificationValue = []byte{0x00, 0x00}
)

var baseUUID = ble.MustParse("00000000-0000-1000-8000-00805f9b34fb")

// expandUUID widens 16 and 32-bit SIG UUIDs to the 128-bit base form.
// ble.UUID stores bytes little-endian, so the short value lands at index 12.
func expandUUID(u ble.UUID) ble.UUID {
	switch len(u) {
	case 2, 4:
		out := make(ble.UUID, len(baseUUID))
		copy(out, baseUUID)
		copy(out[12:], u)
		return out
	default:
		return u
	}
}

// SameUUID compares UUIDs regardless of short or long encoding.
func SameUUID(a, b ble.UUID) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	return bytes.Equal(expandUUID(a), expandUUID(b))
}

// ParseUUID accepts 16, 32 and 128-bit forms, with or without dashes or a 0x prefix.
func ParseUUID(s string) (ble.UUID, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	if s == "" {
		return nil, fmt.Errorf("empty UUID")
	}
	u, err := ble.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("invalid UUID %q: %w", s, err)
	}
	return u, nil
}
