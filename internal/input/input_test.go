package input

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/srg/blemote/internal/testutils"
	"github.com/srg/blemote/pkg/payload"
	"github.com/srg/blemote/pkg/peripheral"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	on := peripheral.AdapterOn

	tests := []struct {
		name string
		line string
		want Event
	}{
		{"button", `{"button":{"index":1,"state":3}}`, Event{Sample: payload.Button{Index: 1, State: 3}}},
		{"button int32 bounds", `{"button":{"index":0,"state":-2147483648}}`, Event{Sample: payload.Button{Index: 0, State: -2147483648}}},
		{"motion", `{"motion":{"x":1.5,"y":-2}}`, Event{Sample: payload.Motion{X: 1.5, Y: -2}}},
		{"orientation", `{"orientation":{"x":0,"y":0.5,"z":0,"w":1}}`, Event{Sample: payload.Orientation{Y: 0.5, W: 1}}},
		{"field", `{"field":"quatZ","value":0.25}`, Event{Sample: payload.FieldValue{Name: "quatZ", Value: 0.25}}},
		{"adapter", `{"adapter":"on"}`, Event{Adapter: &on}},
		{"legacy touch", `{"X":120.5,"Y":33}`, Event{Sample: payload.Motion{X: 120.5, Y: 33}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse([]byte(tt.line))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		line string
		is   error
	}{
		{"not json", `hello`, ErrUnrecognized},
		{"array", `[1,2]`, ErrUnrecognized},
		{"unknown object", `{"joystick":1}`, ErrUnrecognized},
		{"missing state", `{"button":{"index":1}}`, nil},
		{"motion missing y", `{"motion":{"x":1}}`, nil},
		{"unknown field", `{"field":"speed","value":1}`, payload.ErrUnknownField},
		{"bad adapter", `{"adapter":"maybe"}`, nil},
		{"state above int32", `{"button":{"index":0,"state":4294967297}}`, payload.ErrOutOfRange},
		{"state below int32", `{"button":{"index":0,"state":-2147483649}}`, payload.ErrOutOfRange},
		{"index above int32", `{"button":{"index":2147483648,"state":1}}`, payload.ErrOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.line))
			require.Error(t, err)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
		})
	}
}

func TestEncode_ParsesBack(t *testing.T) {
	off := peripheral.AdapterOff
	events := []Event{
		{Sample: payload.Button{Index: 0, State: 1}},
		{Sample: payload.Motion{X: -3, Y: 4.5}},
		{Sample: payload.Orientation{X: 0.1, Y: 0.2, Z: 0.3, W: 0.9}},
		{Sample: payload.FieldValue{Name: "motionY", Value: 7}},
		{Adapter: &off},
	}

	for _, ev := range events {
		line, err := Encode(ev)
		require.NoError(t, err)
		got, err := Parse(line)
		require.NoError(t, err, string(line))
		assert.Equal(t, ev, got)
	}

	line, err := Encode(Event{Sample: payload.Button{Index: 1, State: 2}})
	require.NoError(t, err)
	testutils.NewJSONAsserter(t).Assert(string(line), `{"button":{"index":1,"state":2}}`)
}

func TestDecoder_SkipsCommentsAndReportsLines(t *testing.T) {
	dec := NewDecoder(strings.NewReader(testutils.Dedent(`
		# header

		{"motion":{"x":1,"y":2}}
		garbage
		{"adapter":"off"}
	`)))

	ev, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, payload.Motion{X: 1, Y: 2}, ev.Sample)

	_, err = dec.Next()
	var lineErr *LineError
	require.True(t, errors.As(err, &lineErr))
	assert.Equal(t, 4, lineErr.Line)
	assert.ErrorIs(t, err, ErrUnrecognized)

	ev, err = dec.Next()
	require.NoError(t, err)
	require.NotNil(t, ev.Adapter)
	assert.Equal(t, peripheral.AdapterOff, *ev.Adapter)

	_, err = dec.Next()
	assert.ErrorIs(t, err, io.EOF)
}

type recordingPublisher struct {
	mu      sync.Mutex
	samples []payload.Sample
	fail    error
}

func (p *recordingPublisher) Publish(samples ...payload.Sample) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return 0, p.fail
	}
	p.samples = append(p.samples, samples...)
	return 1, nil
}

func TestPump(t *testing.T) {
	helper := testutils.NewTestHelper(t)
	pub := &recordingPublisher{}
	adapter := make(chan peripheral.AdapterState, 4)

	err := Pump(context.Background(), strings.NewReader(testutils.Dedent(`
		{"adapter":"on"}
		{"button":{"index":0,"state":1}}
		not-json
		{"X":5,"Y":6}
		{"adapter":"off"}
	`)), pub, adapter, helper.Logger)
	require.NoError(t, err)

	assert.Equal(t, []payload.Sample{
		payload.Button{Index: 0, State: 1},
		payload.Motion{X: 5, Y: 6},
	}, pub.samples)

	require.Len(t, adapter, 2)
	assert.Equal(t, peripheral.AdapterOn, <-adapter)
	assert.Equal(t, peripheral.AdapterOff, <-adapter)
}

func TestPump_RejectedSamplesAndNilAdapter(t *testing.T) {
	helper := testutils.NewTestHelper(t)
	pub := &recordingPublisher{fail: payload.ErrOutOfRange}

	err := Pump(context.Background(), strings.NewReader(`{"adapter":"on"}
{"button":{"index":9,"state":1}}
`), pub, nil, helper.Logger)
	assert.NoError(t, err)
	assert.Empty(t, pub.samples)
}

func TestPump_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Pump(ctx, strings.NewReader(`{"X":1,"Y":1}`), &recordingPublisher{}, nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
