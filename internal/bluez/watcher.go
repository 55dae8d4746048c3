// Package bluez follows the power state of a BlueZ adapter over the system
// D-Bus and reports it as peripheral adapter events.
package bluez

import (
	"context"
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/srg/blemote/pkg/peripheral"
)

const (
	bluezBus         = "org.bluez"
	adapterIface     = "org.bluez.Adapter1"
	propertiesIface  = "org.freedesktop.DBus.Properties"
	objectManagerIfc = "org.freedesktop.DBus.ObjectManager"

	propertiesChanged = propertiesIface + ".PropertiesChanged"
	interfacesRemoved = objectManagerIfc + ".InterfacesRemoved"
	interfacesAdded   = objectManagerIfc + ".InterfacesAdded"

	DefaultAdapterPath = "/org/bluez/hci0"
)

var ErrBusClosed = errors.New("D-Bus signal channel closed")

// bus is the part of the system bus the watcher talks to.
type bus interface {
	Powered(path dbus.ObjectPath) (bool, error)
	Subscribe(path dbus.ObjectPath) (<-chan *dbus.Signal, func(), error)
	Close() error
}

// Watcher emits adapter on/off events for one adapter object path.
type Watcher struct {
	bus    bus
	path   dbus.ObjectPath
	logger *logrus.Logger
}

// Connect opens a private system bus connection.
func Connect(adapterPath string, logger *logrus.Logger) (*Watcher, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}
	return newWatcher(&systemBus{conn: conn}, adapterPath, logger), nil
}

func newWatcher(b bus, adapterPath string, logger *logrus.Logger) *Watcher {
	if logger == nil {
		logger = logrus.New()
	}
	if adapterPath == "" {
		adapterPath = DefaultAdapterPath
	}
	return &Watcher{bus: b, path: dbus.ObjectPath(adapterPath), logger: logger}
}

func (w *Watcher) Close() error {
	return w.bus.Close()
}

// Watch sends the current power state and then every change until ctx is
// done. Repeated states are suppressed. A missing adapter counts as off.
func (w *Watcher) Watch(ctx context.Context, out chan<- peripheral.AdapterState) error {
	signals, unsubscribe, err := w.bus.Subscribe(w.path)
	if err != nil {
		return fmt.Errorf("failed to subscribe to adapter signals: %w", err)
	}
	defer unsubscribe()

	log := w.logger.WithField("adapter", string(w.path))

	current := peripheral.AdapterOff
	powered, err := w.bus.Powered(w.path)
	if err != nil {
		log.WithError(err).Warn("Adapter power state unavailable, assuming off")
	} else if powered {
		current = peripheral.AdapterOn
	}
	if err := send(ctx, out, current); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-signals:
			if !ok {
				return ErrBusClosed
			}
			next, ok := w.stateFrom(sig)
			if !ok || next == current {
				continue
			}
			log.WithField("state", next.String()).Info("Adapter power changed")
			current = next
			if err := send(ctx, out, current); err != nil {
				return err
			}
		}
	}
}

// stateFrom extracts an adapter state from a signal, if it carries one.
func (w *Watcher) stateFrom(sig *dbus.Signal) (peripheral.AdapterState, bool) {
	if sig == nil {
		return peripheral.AdapterOff, false
	}
	switch sig.Name {
	case propertiesChanged:
		if sig.Path != w.path {
			return peripheral.AdapterOff, false
		}
		powered, ok := PoweredChanged(sig.Body)
		if !ok {
			return peripheral.AdapterOff, false
		}
		if powered {
			return peripheral.AdapterOn, true
		}
		return peripheral.AdapterOff, true

	case interfacesRemoved:
		if removedAdapter(sig.Body, w.path) {
			return peripheral.AdapterOff, true
		}

	case interfacesAdded:
		if powered, ok := addedAdapter(sig.Body, w.path); ok && powered {
			return peripheral.AdapterOn, true
		}
	}
	return peripheral.AdapterOff, false
}

// PoweredChanged reads the Powered value from a PropertiesChanged body
// (interface, changed properties, invalidated names).
func PoweredChanged(body []interface{}) (bool, bool) {
	if len(body) < 2 {
		return false, false
	}
	if iface, ok := body[0].(string); !ok || iface != adapterIface {
		return false, false
	}
	changed, ok := body[1].(map[string]dbus.Variant)
	if !ok {
		return false, false
	}
	v, ok := changed["Powered"]
	if !ok {
		return false, false
	}
	powered, ok := v.Value().(bool)
	return powered, ok
}

func removedAdapter(body []interface{}, path dbus.ObjectPath) bool {
	if len(body) < 2 {
		return false
	}
	if p, ok := body[0].(dbus.ObjectPath); !ok || p != path {
		return false
	}
	ifaces, ok := body[1].([]string)
	if !ok {
		return false
	}
	for _, iface := range ifaces {
		if iface == adapterIface {
			return true
		}
	}
	return false
}

func addedAdapter(body []interface{}, path dbus.ObjectPath) (bool, bool) {
	if len(body) < 2 {
		return false, false
	}
	if p, ok := body[0].(dbus.ObjectPath); !ok || p != path {
		return false, false
	}
	ifaces, ok := body[1].(map[string]map[string]dbus.Variant)
	if !ok {
		return false, false
	}
	props, ok := ifaces[adapterIface]
	if !ok {
		return false, false
	}
	powered, ok := props["Powered"].Value().(bool)
	return powered, ok
}

func send(ctx context.Context, out chan<- peripheral.AdapterState, state peripheral.AdapterState) error {
	select {
	case out <- state:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type systemBus struct {
	conn *dbus.Conn
}

func (b *systemBus) Powered(path dbus.ObjectPath) (bool, error) {
	variant, err := b.conn.Object(bluezBus, path).GetProperty(adapterIface + ".Powered")
	if err != nil {
		return false, err
	}
	powered, ok := variant.Value().(bool)
	if !ok {
		return false, fmt.Errorf("property %s.Powered has unexpected type %T", adapterIface, variant.Value())
	}
	return powered, nil
}

func (b *systemBus) Subscribe(path dbus.ObjectPath) (<-chan *dbus.Signal, func(), error) {
	matches := [][]dbus.MatchOption{
		{
			dbus.WithMatchSender(bluezBus),
			dbus.WithMatchInterface(propertiesIface),
			dbus.WithMatchMember("PropertiesChanged"),
			dbus.WithMatchObjectPath(path),
		},
		{
			dbus.WithMatchSender(bluezBus),
			dbus.WithMatchInterface(objectManagerIfc),
		},
	}
	for i, m := range matches {
		if err := b.conn.AddMatchSignal(m...); err != nil {
			for _, added := range matches[:i] {
				_ = b.conn.RemoveMatchSignal(added...)
			}
			return nil, nil, err
		}
	}

	ch := make(chan *dbus.Signal, 16)
	b.conn.Signal(ch)

	unsubscribe := func() {
		b.conn.RemoveSignal(ch)
		for _, m := range matches {
			_ = b.conn.RemoveMatchSignal(m...)
		}
	}
	return ch, unsubscribe, nil
}

func (b *systemBus) Close() error {
	return b.conn.Close()
}
