package payload

import "errors"

var (
	// ErrUnknownField is returned for names or indexes outside the layout.
	ErrUnknownField = errors.New("unknown payload field")

	// ErrFieldKind is returned when a typed accessor does not match the field kind.
	ErrFieldKind = errors.New("payload field kind mismatch")

	// ErrOutOfRange is returned when a value does not fit the field type.
	ErrOutOfRange = errors.New("payload value out of range")

	// ErrInvalidSize is returned when decoding a record of the wrong length.
	ErrInvalidSize = errors.New("invalid payload size")
)
