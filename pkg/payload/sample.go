package payload

import "fmt"

// Sample is one input event that updates part of the buffer.
type Sample interface {
	Apply(b *Buffer) error
}

// Button sets the pressed state of button 0 or 1.
type Button struct {
	Index int
	State int32
}

func (s Button) Apply(b *Buffer) error {
	f, err := ButtonField(s.Index)
	if err != nil {
		return err
	}
	return b.SetInt32(f, s.State)
}

func (s Button) String() string {
	return fmt.Sprintf("button[%d]=%d", s.Index, s.State)
}

// Motion sets the 2D motion delta.
type Motion struct {
	X, Y float32
}

func (s Motion) Apply(b *Buffer) error {
	if err := b.SetFloat32(MotionX, s.X); err != nil {
		return err
	}
	return b.SetFloat32(MotionY, s.Y)
}

func (s Motion) String() string {
	return fmt.Sprintf("motion(%g,%g)", s.X, s.Y)
}

// Orientation sets the quaternion. Components are stored as given, no normalization.
type Orientation struct {
	X, Y, Z, W float32
}

func (s Orientation) Apply(b *Buffer) error {
	for _, fv := range []struct {
		f Field
		v float32
	}{{QuatX, s.X}, {QuatY, s.Y}, {QuatZ, s.Z}, {QuatW, s.W}} {
		if err := b.SetFloat32(fv.f, fv.v); err != nil {
			return err
		}
	}
	return nil
}

func (s Orientation) String() string {
	return fmt.Sprintf("quat(%g,%g,%g,%g)", s.X, s.Y, s.Z, s.W)
}

// FieldValue sets a single field by wire name.
type FieldValue struct {
	Name  string
	Value float64
}

func (s FieldValue) Apply(b *Buffer) error {
	return b.SetField(s.Name, s.Value)
}

func (s FieldValue) String() string {
	return fmt.Sprintf("%s=%g", s.Name, s.Value)
}
