package payload

import (
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Size is the wire size of an encoded Buffer in bytes.
const Size = 32

// Kind is the binary type stored at a field offset.
type Kind int

const (
	KindInt32 Kind = iota
	KindFloat32
)

func (k Kind) String() string {
	switch k {
	case KindInt32:
		return "int32"
	case KindFloat32:
		return "float32"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Field identifies one slot of the payload record.
type Field int

const (
	ButtonState0 Field = iota
	ButtonState1
	MotionX
	MotionY
	QuatX
	QuatY
	QuatZ
	QuatW

	fieldCount
)

// FieldSpec describes where and how a field is encoded.
type FieldSpec struct {
	Field  Field  `json:"-"`
	Name   string `json:"name"`
	Offset int    `json:"offset"`
	Kind   Kind   `json:"-"`
	Type   string `json:"type"`
}

// Width is the encoded width of the field in bytes. Both kinds are 4 bytes wide.
func (s FieldSpec) Width() int {
	return 4
}

var specs = [fieldCount]FieldSpec{
	ButtonState0: {Name: "buttonState[0]", Offset: 0, Kind: KindInt32},
	ButtonState1: {Name: "buttonState[1]", Offset: 4, Kind: KindInt32},
	MotionX:      {Name: "motionX", Offset: 8, Kind: KindFloat32},
	MotionY:      {Name: "motionY", Offset: 12, Kind: KindFloat32},
	QuatX:        {Name: "quatX", Offset: 16, Kind: KindFloat32},
	QuatY:        {Name: "quatY", Offset: 20, Kind: KindFloat32},
	QuatZ:        {Name: "quatZ", Offset: 24, Kind: KindFloat32},
	QuatW:        {Name: "quatW", Offset: 28, Kind: KindFloat32},
}

// byName keeps the wire order so Layout and Values iterate by offset.
var byName = func() *orderedmap.OrderedMap[string, FieldSpec] {
	m := orderedmap.New[string, FieldSpec]()
	for i := range specs {
		specs[i].Field = Field(i)
		specs[i].Type = specs[i].Kind.String()
		m.Set(specs[i].Name, specs[i])
	}
	return m
}()

func (f Field) valid() bool {
	return f >= 0 && f < fieldCount
}

// Spec returns the layout entry of the field.
func (f Field) Spec() (FieldSpec, error) {
	if !f.valid() {
		return FieldSpec{}, fmt.Errorf("%w: field #%d", ErrUnknownField, int(f))
	}
	return specs[f], nil
}

func (f Field) String() string {
	if !f.valid() {
		return fmt.Sprintf("field(%d)", int(f))
	}
	return specs[f].Name
}

// Lookup resolves a field by its wire name, e.g. "motionX" or "buttonState[1]".
func Lookup(name string) (FieldSpec, error) {
	spec, ok := byName.Get(name)
	if !ok {
		return FieldSpec{}, fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	return spec, nil
}

// Layout returns every field in offset order.
func Layout() []FieldSpec {
	out := make([]FieldSpec, 0, byName.Len())
	for pair := byName.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// ButtonField maps a button index to its state field.
func ButtonField(index int) (Field, error) {
	switch index {
	case 0:
		return ButtonState0, nil
	case 1:
		return ButtonState1, nil
	default:
		return 0, fmt.Errorf("%w: button index %d", ErrUnknownField, index)
	}
}
