package payload

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Buffer is the latest-known input state in its little-endian wire form.
//
// Field updates mutate in place; untouched fields keep their previous value.
// Buffer is not safe for concurrent use, callers provide their own locking.
type Buffer struct {
	data [Size]byte
}

// New returns a zeroed buffer.
func New() *Buffer {
	return &Buffer{}
}

// Decode parses a wire record. The input must be exactly Size bytes.
func Decode(data []byte) (*Buffer, error) {
	if len(data) != Size {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidSize, len(data), Size)
	}
	b := &Buffer{}
	copy(b.data[:], data)
	return b, nil
}

func (b *Buffer) spec(f Field, kind Kind) (FieldSpec, error) {
	spec, err := f.Spec()
	if err != nil {
		return FieldSpec{}, err
	}
	if spec.Kind != kind {
		return FieldSpec{}, fmt.Errorf("%w: %s is %s, not %s", ErrFieldKind, spec.Name, spec.Kind, kind)
	}
	return spec, nil
}

// SetInt32 stores v at an int32 field.
func (b *Buffer) SetInt32(f Field, v int32) error {
	spec, err := b.spec(f, KindInt32)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b.data[spec.Offset:], uint32(v))
	return nil
}

// SetFloat32 stores v at a float32 field.
func (b *Buffer) SetFloat32(f Field, v float32) error {
	spec, err := b.spec(f, KindFloat32)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b.data[spec.Offset:], math.Float32bits(v))
	return nil
}

// Int32 reads an int32 field.
func (b *Buffer) Int32(f Field) (int32, error) {
	spec, err := b.spec(f, KindInt32)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b.data[spec.Offset:])), nil
}

// Float32 reads a float32 field.
func (b *Buffer) Float32(f Field) (float32, error) {
	spec, err := b.spec(f, KindFloat32)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(b.data[spec.Offset:])), nil
}

// SetField stores value at the named field, converting it to the field kind.
// Integer fields reject fractional or out of range values.
func (b *Buffer) SetField(name string, value float64) error {
	spec, err := Lookup(name)
	if err != nil {
		return err
	}

	switch spec.Kind {
	case KindInt32:
		if value != math.Trunc(value) || value < math.MinInt32 || value > math.MaxInt32 {
			return fmt.Errorf("%w: %s=%v", ErrOutOfRange, name, value)
		}
		return b.SetInt32(spec.Field, int32(value))
	default:
		if math.Abs(value) > math.MaxFloat32 && !math.IsInf(value, 0) {
			return fmt.Errorf("%w: %s=%v", ErrOutOfRange, name, value)
		}
		return b.SetFloat32(spec.Field, float32(value))
	}
}

// Value reads any field widened to float64.
func (b *Buffer) Value(f Field) (float64, error) {
	spec, err := f.Spec()
	if err != nil {
		return 0, err
	}
	if spec.Kind == KindInt32 {
		v, err := b.Int32(f)
		return float64(v), err
	}
	v, err := b.Float32(f)
	return float64(v), err
}

// Values returns every field keyed by name, in wire order.
func (b *Buffer) Values() *orderedmap.OrderedMap[string, float64] {
	out := orderedmap.New[string, float64]()
	for _, spec := range Layout() {
		v, _ := b.Value(spec.Field)
		out.Set(spec.Name, v)
	}
	return out
}

// Bytes returns a copy of the encoded record.
func (b *Buffer) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, b.data[:])
	return out
}

// Reset zeroes every field.
func (b *Buffer) Reset() {
	b.data = [Size]byte{}
}

func (b *Buffer) String() string {
	return hex.EncodeToString(b.data[:])
}
