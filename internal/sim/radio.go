// Package sim provides an in-memory Bluetooth radio for exercising the
// peripheral without hardware, plus a YAML scenario runner on top of it.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blemote/pkg/peripheral"
)

// DefaultHistorySize is the number of notifications kept per central.
const DefaultHistorySize uint32 = 64

var ErrNotAdvertising = errors.New("peripheral is not advertising")

// Radio is an in-memory peripheral.Adapter. Centrals connect to it directly.
type Radio struct {
	logger      *logrus.Logger
	historySize uint32

	// serializes handler calls like a platform GATT thread
	dispatchMu sync.Mutex

	mu           sync.Mutex
	handler      peripheral.RequestHandler
	def          peripheral.Definition
	advertising  *peripheral.Advertisement
	advertiseErr error
	openErr      error
	released     int
	nextID       int
	centrals     map[peripheral.Device]*Central
}

var _ peripheral.Adapter = (*Radio)(nil)

func NewRadio(logger *logrus.Logger) *Radio {
	if logger == nil {
		logger = logrus.New()
	}
	return &Radio{
		logger:      logger,
		historySize: DefaultHistorySize,
		centrals:    map[peripheral.Device]*Central{},
	}
}

// FailAdvertising makes every following Advertise call fail with err. nil clears it.
func (r *Radio) FailAdvertising(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advertiseErr = err
}

// FailOpen makes every following OpenGattServer call fail with err. nil clears it.
func (r *Radio) FailOpen(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.openErr = err
}

func (r *Radio) Advertise(ctx context.Context, adv peripheral.Advertisement) error {
	r.mu.Lock()
	if r.advertiseErr != nil {
		err := r.advertiseErr
		r.mu.Unlock()
		return err
	}
	r.advertising = &adv
	r.mu.Unlock()

	r.logger.WithField("name", adv.LocalName).Debug("Simulated advertising started")
	<-ctx.Done()

	r.mu.Lock()
	r.advertising = nil
	r.mu.Unlock()
	return ctx.Err()
}

// Advertising returns the advertisement currently on air.
func (r *Radio) Advertising() (peripheral.Advertisement, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.advertising == nil {
		return peripheral.Advertisement{}, false
	}
	return *r.advertising, true
}

func (r *Radio) OpenGattServer(def peripheral.Definition, h peripheral.RequestHandler) (peripheral.Link, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.openErr != nil {
		return nil, r.openErr
	}
	if r.handler != nil {
		return nil, peripheral.ErrServerAlreadyOpen
	}
	r.handler = h
	r.def = def
	return r, nil
}

// CloseGattServer drops every central without reporting disconnects.
func (r *Radio) CloseGattServer() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handler == nil {
		return peripheral.ErrServerNotOpen
	}
	r.handler = nil
	for addr, c := range r.centrals {
		c.markGone()
		delete(r.centrals, addr)
	}
	return nil
}

func (r *Radio) Release() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.released++
	return nil
}

// Released is the number of times the radio was released.
func (r *Radio) Released() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.released
}

func (r *Radio) IsOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handler != nil
}

func (r *Radio) SendResponse(dev peripheral.Device, requestID int, status ble.ATTError, offset int, value []byte) error {
	c, err := r.central(dev)
	if err != nil {
		return err
	}
	c.record(Response{RequestID: requestID, Status: status, Offset: offset, Value: append([]byte(nil), value...)})
	return nil
}

func (r *Radio) Notify(dev peripheral.Device, char ble.UUID, value []byte) error {
	c, err := r.central(dev)
	if err != nil {
		return err
	}
	return c.deliver(Notification{Characteristic: char.String(), Value: append([]byte(nil), value...)})
}

// Connect attaches a new central. The peripheral must be advertising.
func (r *Radio) Connect(addr string) (*Central, error) {
	dev := peripheral.Device(addr)

	r.mu.Lock()
	switch {
	case r.handler == nil:
		r.mu.Unlock()
		return nil, peripheral.ErrServerNotOpen
	case r.advertising == nil:
		r.mu.Unlock()
		return nil, ErrNotAdvertising
	}
	if c, ok := r.centrals[dev]; ok {
		r.mu.Unlock()
		return c, nil
	}
	c := newCentral(r, dev, r.historySize)
	r.centrals[dev] = c
	r.mu.Unlock()

	r.dispatch(func(h peripheral.RequestHandler, _ peripheral.Definition) {
		h.OnConnectionStateChange(dev, peripheral.Connected)
	})
	return c, nil
}

// Central returns a connected central by address.
func (r *Radio) Central(addr string) (*Central, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.centrals[peripheral.Device(addr)]
	return c, ok
}

func (r *Radio) disconnect(c *Central) {
	r.mu.Lock()
	if r.centrals[c.addr] != c {
		r.mu.Unlock()
		return
	}
	delete(r.centrals, c.addr)
	r.mu.Unlock()

	c.markGone()
	r.dispatch(func(h peripheral.RequestHandler, _ peripheral.Definition) {
		h.OnConnectionStateChange(c.addr, peripheral.Disconnected)
	})
}

func (r *Radio) central(dev peripheral.Device) (*Central, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.centrals[dev]
	if !ok {
		return nil, fmt.Errorf("%w: %s", peripheral.ErrUnknownDevice, dev)
	}
	return c, nil
}

func (r *Radio) newRequestID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	return r.nextID
}

// dispatch runs fn against the open handler and reports whether one was open.
func (r *Radio) dispatch(fn func(h peripheral.RequestHandler, def peripheral.Definition)) bool {
	r.dispatchMu.Lock()
	defer r.dispatchMu.Unlock()

	r.mu.Lock()
	h, def := r.handler, r.def
	r.mu.Unlock()
	if h == nil {
		return false
	}
	fn(h, def)
	return true
}
