// Package input decodes newline-delimited JSON input events.
//
// Recognized lines:
//
//	{"button":{"index":0,"state":1}}
//	{"motion":{"x":1.5,"y":-2}}
//	{"orientation":{"x":0,"y":0,"z":0,"w":1}}
//	{"field":"quatX","value":1.5}
//	{"adapter":"on"}
//	{"X":120.5,"Y":33}            legacy touch position, mapped to motion
package input

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/buger/jsonparser"
	"github.com/srg/blemote/pkg/payload"
	"github.com/srg/blemote/pkg/peripheral"
)

var ErrUnrecognized = errors.New("unrecognized input event")

// Event is either a sample or an adapter state change.
type Event struct {
	Sample  payload.Sample
	Adapter *peripheral.AdapterState
}

func (e Event) String() string {
	if e.Adapter != nil {
		return "adapter " + e.Adapter.String()
	}
	return fmt.Sprint(e.Sample)
}

// Parse decodes one JSON line.
func Parse(line []byte) (Event, error) {
	switch {
	case has(line, "button"):
		index, err := jsonparser.GetInt(line, "button", "index")
		if err != nil {
			return Event{}, fmt.Errorf("button.index: %w", err)
		}
		state, err := jsonparser.GetInt(line, "button", "state")
		if err != nil {
			return Event{}, fmt.Errorf("button.state: %w", err)
		}
		if err := fitsInt32("button.index", index); err != nil {
			return Event{}, err
		}
		if err := fitsInt32("button.state", state); err != nil {
			return Event{}, err
		}
		return Event{Sample: payload.Button{Index: int(index), State: int32(state)}}, nil

	case has(line, "motion"):
		v, err := floats(line, "motion", "x", "y")
		if err != nil {
			return Event{}, err
		}
		return Event{Sample: payload.Motion{X: v[0], Y: v[1]}}, nil

	case has(line, "orientation"):
		v, err := floats(line, "orientation", "x", "y", "z", "w")
		if err != nil {
			return Event{}, err
		}
		return Event{Sample: payload.Orientation{X: v[0], Y: v[1], Z: v[2], W: v[3]}}, nil

	case has(line, "field"):
		name, err := jsonparser.GetString(line, "field")
		if err != nil {
			return Event{}, fmt.Errorf("field: %w", err)
		}
		value, err := jsonparser.GetFloat(line, "value")
		if err != nil {
			return Event{}, fmt.Errorf("value: %w", err)
		}
		if _, err := payload.Lookup(name); err != nil {
			return Event{}, err
		}
		return Event{Sample: payload.FieldValue{Name: name, Value: value}}, nil

	case has(line, "adapter"):
		raw, err := jsonparser.GetString(line, "adapter")
		if err != nil {
			return Event{}, fmt.Errorf("adapter: %w", err)
		}
		state, err := peripheral.ParseAdapterState(raw)
		if err != nil {
			return Event{}, err
		}
		return Event{Adapter: &state}, nil

	case has(line, "X") && has(line, "Y"):
		x, err := jsonparser.GetFloat(line, "X")
		if err != nil {
			return Event{}, fmt.Errorf("X: %w", err)
		}
		y, err := jsonparser.GetFloat(line, "Y")
		if err != nil {
			return Event{}, fmt.Errorf("Y: %w", err)
		}
		return Event{Sample: payload.Motion{X: float32(x), Y: float32(y)}}, nil
	}

	if _, dataType, _, err := jsonparser.Get(line); err != nil || dataType != jsonparser.Object {
		return Event{}, fmt.Errorf("%w: not a JSON object", ErrUnrecognized)
	}
	return Event{}, ErrUnrecognized
}

func has(line []byte, key string) bool {
	_, _, _, err := jsonparser.Get(line, key)
	return err == nil
}

func floats(line []byte, object string, keys ...string) ([]float32, error) {
	out := make([]float32, len(keys))
	for i, key := range keys {
		v, err := jsonparser.GetFloat(line, object, key)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", object, key, err)
		}
		out[i] = float32(v)
	}
	return out, nil
}

type buttonWire struct {
	Index int   `json:"index"`
	State int32 `json:"state"`
}

type vectorWire struct {
	X float32  `json:"x"`
	Y float32  `json:"y"`
	Z *float32 `json:"z,omitempty"`
	W *float32 `json:"w,omitempty"`
}

// Encode renders an event as one JSON line without the trailing newline.
func Encode(e Event) ([]byte, error) {
	if e.Adapter != nil {
		return json.Marshal(map[string]string{"adapter": e.Adapter.String()})
	}
	switch s := e.Sample.(type) {
	case payload.Button:
		return json.Marshal(map[string]buttonWire{"button": {Index: s.Index, State: s.State}})
	case payload.Motion:
		return json.Marshal(map[string]vectorWire{"motion": {X: s.X, Y: s.Y}})
	case payload.Orientation:
		return json.Marshal(map[string]vectorWire{"orientation": {X: s.X, Y: s.Y, Z: &s.Z, W: &s.W}})
	case payload.FieldValue:
		return json.Marshal(struct {
			Field string  `json:"field"`
			Value float64 `json:"value"`
		}{s.Name, s.Value})
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnrecognized, e.Sample)
	}
}

func fitsInt32(name string, v int64) error {
	if v < math.MinInt32 || v > math.MaxInt32 {
		return fmt.Errorf("%s: %w: %d", name, payload.ErrOutOfRange, v)
	}
	return nil
}
