package bluez

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/srg/blemote/internal/testutils"
	"github.com/srg/blemote/pkg/peripheral"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBus struct {
	powered      bool
	poweredErr   error
	subscribeErr error
	signals      chan *dbus.Signal
	unsubscribed bool
	closed       bool
}

func newFakeBus(powered bool) *fakeBus {
	return &fakeBus{powered: powered, signals: make(chan *dbus.Signal, 8)}
}

func (b *fakeBus) Powered(dbus.ObjectPath) (bool, error) { return b.powered, b.poweredErr }

func (b *fakeBus) Subscribe(dbus.ObjectPath) (<-chan *dbus.Signal, func(), error) {
	if b.subscribeErr != nil {
		return nil, nil, b.subscribeErr
	}
	return b.signals, func() { b.unsubscribed = true }, nil
}

func (b *fakeBus) Close() error {
	b.closed = true
	return nil
}

func poweredSignal(path string, powered bool) *dbus.Signal {
	return &dbus.Signal{
		Path: dbus.ObjectPath(path),
		Name: propertiesChanged,
		Body: []interface{}{
			adapterIface,
			map[string]dbus.Variant{"Powered": dbus.MakeVariant(powered)},
			[]string{},
		},
	}
}

func receive(t *testing.T, ch <-chan peripheral.AdapterState) peripheral.AdapterState {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for adapter state")
		return peripheral.AdapterOff
	}
}

func TestWatcher_InitialStateAndChanges(t *testing.T) {
	fb := newFakeBus(true)
	w := newWatcher(fb, "", testutils.NewTestHelper(t).Logger)

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan peripheral.AdapterState, 8)
	result := make(chan error, 1)
	go func() { result <- w.Watch(ctx, out) }()

	assert.Equal(t, peripheral.AdapterOn, receive(t, out))

	fb.signals <- poweredSignal(DefaultAdapterPath, true) // repeat, suppressed
	fb.signals <- poweredSignal("/org/bluez/hci1", false) // other adapter
	fb.signals <- poweredSignal(DefaultAdapterPath, false)
	assert.Equal(t, peripheral.AdapterOff, receive(t, out))

	fb.signals <- &dbus.Signal{
		Path: "/",
		Name: interfacesAdded,
		Body: []interface{}{
			dbus.ObjectPath(DefaultAdapterPath),
			map[string]map[string]dbus.Variant{
				adapterIface: {"Powered": dbus.MakeVariant(true)},
			},
		},
	}
	assert.Equal(t, peripheral.AdapterOn, receive(t, out))

	fb.signals <- &dbus.Signal{
		Path: "/",
		Name: interfacesRemoved,
		Body: []interface{}{dbus.ObjectPath(DefaultAdapterPath), []string{adapterIface}},
	}
	assert.Equal(t, peripheral.AdapterOff, receive(t, out))

	cancel()
	assert.ErrorIs(t, <-result, context.Canceled)
	assert.True(t, fb.unsubscribed)
	assert.Empty(t, out)

	require.NoError(t, w.Close())
	assert.True(t, fb.closed)
}

func TestWatcher_PropertyErrorAssumesOff(t *testing.T) {
	fb := newFakeBus(true)
	fb.poweredErr = errors.New("org.freedesktop.DBus.Error.UnknownObject")
	w := newWatcher(fb, "/org/bluez/hci0", testutils.NewTestHelper(t).Logger)

	out := make(chan peripheral.AdapterState, 1)
	close(fb.signals)

	err := w.Watch(context.Background(), out)
	assert.ErrorIs(t, err, ErrBusClosed)
	assert.Equal(t, peripheral.AdapterOff, <-out)
}

func TestWatcher_SubscribeFailure(t *testing.T) {
	fb := newFakeBus(false)
	fb.subscribeErr = errors.New("access denied")
	w := newWatcher(fb, "", nil)

	err := w.Watch(context.Background(), make(chan peripheral.AdapterState, 1))
	assert.ErrorContains(t, err, "access denied")
}

func TestPoweredChanged(t *testing.T) {
	tests := []struct {
		name    string
		body    []interface{}
		powered bool
		ok      bool
	}{
		{"powered on", poweredSignal(DefaultAdapterPath, true).Body, true, true},
		{"powered off", poweredSignal(DefaultAdapterPath, false).Body, false, true},
		{"short body", []interface{}{adapterIface}, false, false},
		{"other interface", []interface{}{"org.bluez.Device1", map[string]dbus.Variant{"Powered": dbus.MakeVariant(true)}}, false, false},
		{"no Powered key", []interface{}{adapterIface, map[string]dbus.Variant{"Discoverable": dbus.MakeVariant(true)}}, false, false},
		{"wrong type", []interface{}{adapterIface, map[string]dbus.Variant{"Powered": dbus.MakeVariant("yes")}}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			powered, ok := PoweredChanged(tt.body)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.powered, powered)
		})
	}
}
