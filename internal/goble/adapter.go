package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blemote/internal/groutine"
	"github.com/srg/blemote/internal/ringchan"
	"github.com/srg/blemote/pkg/peripheral"
)

// DefaultResponseTimeout bounds how long a read waits for the handler's response.
const DefaultResponseTimeout = 2 * time.Second

// remote is the part of ble.Conn used to identify and track a central.
type remote interface {
	RemoteAddr() ble.Addr
	Disconnected() <-chan struct{}
}

// responder is the part of ble.ResponseWriter used to answer a read.
type responder interface {
	Write(b []byte) (int, error)
	SetStatus(status ble.ATTError)
	Cap() int
}

// notifier is the part of ble.Notifier used to push values.
type notifier interface {
	Context() context.Context
	Write(b []byte) (int, error)
	Cap() int
}

type pendingResponse struct {
	once   sync.Once
	done   chan struct{}
	status ble.ATTError
	value  []byte
}

func (p *pendingResponse) resolve(status ble.ATTError, value []byte) {
	p.once.Do(func() {
		p.status = status
		p.value = value
		close(p.done)
	})
}

type central struct {
	addr peripheral.Device

	mu   sync.Mutex
	sink *ringchan.RingChannel[[]byte]
}

func (c *central) setSink(sink *ringchan.RingChannel[[]byte]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sink = sink
}

func (c *central) currentSink() *ringchan.RingChannel[[]byte] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sink
}

// clearSink detaches sink if it is still the active one.
func (c *central) clearSink(sink *ringchan.RingChannel[[]byte]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sink == sink {
		c.sink = nil
	}
}

// Adapter bridges go-ble's handler callbacks to a peripheral.RequestHandler.
//
// go-ble answers CCCD traffic itself, so a started notify handler is reported
// as an "enable" write and its end as a "disable" write. Each subscriber gets a
// capacity-1 ring so a slow central only ever receives the latest payload.
type Adapter struct {
	dev             Device
	logger          *logrus.Logger
	responseTimeout time.Duration

	// serializes handler invocations
	dispatchMu sync.Mutex

	mu      sync.Mutex
	handler peripheral.RequestHandler
	def     peripheral.Definition
	ctx     context.Context
	cancel  context.CancelFunc

	centrals *hashmap.Map[string, *central]
	pending  *hashmap.Map[int, *pendingResponse]
	nextID   atomic.Int64
}

var (
	_ peripheral.Adapter = (*Adapter)(nil)
	_ peripheral.Link    = (*Adapter)(nil)
)

func NewAdapter(dev Device, logger *logrus.Logger) *Adapter {
	if logger == nil {
		logger = logrus.New()
	}
	return &Adapter{
		dev:             dev,
		logger:          logger,
		responseTimeout: DefaultResponseTimeout,
		centrals:        hashmap.New[string, *central](),
		pending:         hashmap.New[int, *pendingResponse](),
	}
}

// NewAdapterFactory opens the platform device on every activation.
// A platform without a controller yields no adapter rather than an error.
func NewAdapterFactory(opts Options, logger *logrus.Logger) peripheral.AdapterFactory {
	return func() (peripheral.Adapter, error) {
		dev, err := DeviceFactory(opts)
		if err != nil {
			err = NormalizeError(err)
			if errors.Is(err, errNoDevice) {
				if logger != nil {
					logger.WithError(err).Warn("No Bluetooth controller found")
				}
				return nil, nil
			}
			return nil, fmt.Errorf("failed to open Bluetooth device: %w", err)
		}
		return NewAdapter(dev, logger), nil
	}
}

// Advertise runs until ctx is done. go-ble always advertises connectable with
// platform interval and power, mode and tx power are informational only.
func (a *Adapter) Advertise(ctx context.Context, adv peripheral.Advertisement) error {
	name := ""
	if adv.Settings.IncludeDeviceName {
		name = adv.LocalName
	}

	a.logger.WithFields(logrus.Fields{
		"name":     name,
		"mode":     adv.Settings.Mode,
		"interval": adv.Settings.Mode.Interval(),
		"tx_power": adv.Settings.TxPower.DBm(),
	}).Debug("Advertising via go-ble")
	if len(adv.Settings.ServiceData) > 0 {
		a.logger.Debug("Service data is not supported alongside 128-bit service UUIDs, skipping")
	}

	err := a.dev.AdvertiseNameAndServices(ctx, name, adv.Services...)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return NormalizeError(err)
}

func (a *Adapter) OpenGattServer(def peripheral.Definition, h peripheral.RequestHandler) (peripheral.Link, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.handler != nil {
		return nil, peripheral.ErrServerAlreadyOpen
	}

	svc := ble.NewService(def.Service)
	char := svc.NewCharacteristic(def.Characteristic)
	if def.Properties&ble.CharRead != 0 {
		char.HandleRead(ble.ReadHandlerFunc(a.serveRead))
	}
	if def.Properties&ble.CharNotify != 0 {
		char.HandleNotify(ble.NotifyHandlerFunc(a.serveNotify))
	}

	if err := a.dev.AddService(svc); err != nil {
		return nil, fmt.Errorf("failed to add service: %w", NormalizeError(err))
	}

	a.ctx, a.cancel = context.WithCancel(context.Background())
	a.handler = h
	a.def = def
	return a, nil
}

func (a *Adapter) CloseGattServer() error {
	a.mu.Lock()
	if a.handler == nil {
		a.mu.Unlock()
		return peripheral.ErrServerNotOpen
	}
	a.handler = nil
	a.cancel()
	a.mu.Unlock()

	a.centrals.Range(func(key string, c *central) bool {
		if sink := c.currentSink(); sink != nil {
			sink.Close()
		}
		a.centrals.Del(key)
		return true
	})
	a.pending.Range(func(id int, p *pendingResponse) bool {
		p.resolve(peripheral.StatusFailure, nil)
		a.pending.Del(id)
		return true
	})

	if err := a.dev.RemoveAllServices(); err != nil {
		return fmt.Errorf("failed to remove services: %w", NormalizeError(err))
	}
	return nil
}

func (a *Adapter) Release() error {
	return NormalizeError(a.dev.Stop())
}

// SendResponse completes a pending read. Responses for unknown or expired
// request IDs are reported as errors.
func (a *Adapter) SendResponse(dev peripheral.Device, requestID int, status ble.ATTError, offset int, value []byte) error {
	p, ok := a.pending.Get(requestID)
	if !ok {
		return fmt.Errorf("no pending request %d for %s", requestID, dev)
	}
	p.resolve(status, value)
	return nil
}

// Notify queues value for dev, replacing any value not yet sent.
func (a *Adapter) Notify(dev peripheral.Device, char ble.UUID, value []byte) error {
	c, ok := a.centrals.Get(string(dev))
	if !ok {
		return fmt.Errorf("%w: %s", peripheral.ErrUnknownDevice, dev)
	}
	sink := c.currentSink()
	if sink == nil {
		return fmt.Errorf("%s is not subscribed to %s", dev, char)
	}
	if sink.Send(append([]byte(nil), value...)) {
		a.logger.WithField("device", dev).Trace("Superseded unsent notification")
	}
	return nil
}

func (a *Adapter) serveRead(req ble.Request, rsp ble.ResponseWriter) {
	a.read(req.Conn(), req.Offset(), rsp)
}

func (a *Adapter) serveNotify(req ble.Request, n ble.Notifier) {
	a.notify(req.Conn(), n)
}

func (a *Adapter) read(conn remote, offset int, rsp responder) {
	c, ok := a.track(conn)
	if !ok {
		rsp.SetStatus(peripheral.StatusFailure)
		return
	}

	id := int(a.nextID.Add(1))
	p := &pendingResponse{done: make(chan struct{})}
	a.pending.Set(id, p)
	defer a.pending.Del(id)

	a.dispatch(func(h peripheral.RequestHandler, def peripheral.Definition) {
		h.OnCharacteristicReadRequest(c.addr, id, offset, def.Characteristic)
	})

	select {
	case <-p.done:
	case <-time.After(a.responseTimeout):
		a.logger.WithFields(logrus.Fields{"device": c.addr, "request_id": id}).Warn("Read response timed out")
		rsp.SetStatus(peripheral.StatusFailure)
		return
	}

	if p.status != ble.ErrSuccess {
		rsp.SetStatus(p.status)
		return
	}
	if offset > len(p.value) {
		rsp.SetStatus(ble.ErrInvalidOffset)
		return
	}
	value := p.value[offset:]
	if limit := rsp.Cap(); limit >= 0 && len(value) > limit {
		value = value[:limit]
	}
	if _, err := rsp.Write(value); err != nil {
		a.logger.WithError(err).WithField("device", c.addr).Warn("Failed to write read response")
	}
}

func (a *Adapter) notify(conn remote, n notifier) {
	c, ok := a.track(conn)
	if !ok {
		return
	}
	log := a.logger.WithField("device", c.addr)

	sink := ringchan.New[[]byte](1)
	c.setSink(sink)
	a.writeCCCD(c.addr, peripheral.EnableNotificationValue)
	log.WithField("mtu_payload", n.Cap()).Debug("Notification channel opened")

	defer func() {
		c.clearSink(sink)
		sink.Close()
		a.writeCCCD(c.addr, peripheral.DisableNotificationValue)
		log.Debug("Notification channel closed")
	}()

	warnedOversize := false
	for {
		select {
		case <-n.Context().Done():
			return
		case value, ok := <-sink.C():
			if !ok {
				return
			}
			if len(value) > n.Cap() {
				entry := log.WithFields(logrus.Fields{"size": len(value), "cap": n.Cap()})
				if !warnedOversize {
					warnedOversize = true
					entry.Warn("Payload exceeds notification size, dropping notifications until the central negotiates a larger ATT MTU")
				} else {
					entry.Debug("Payload exceeds notification size, dropped")
				}
				continue
			}
			if _, err := n.Write(value); err != nil {
				log.WithError(err).Debug("Notification write failed")
			}
		}
	}
}

func (a *Adapter) writeCCCD(dev peripheral.Device, value []byte) {
	id := int(a.nextID.Add(1))
	a.dispatch(func(h peripheral.RequestHandler, def peripheral.Definition) {
		h.OnDescriptorWriteRequest(dev, id, def.Descriptor.UUID, false, 0, value)
	})
}

// track registers conn on first sight, reports Connected and starts a
// watcher that reports Disconnected.
func (a *Adapter) track(conn remote) (*central, bool) {
	a.mu.Lock()
	open := a.handler != nil
	ctx := a.ctx
	a.mu.Unlock()
	if !open {
		return nil, false
	}

	addr := peripheral.Device(conn.RemoteAddr().String())
	c, loaded := a.centrals.GetOrInsert(string(addr), &central{addr: addr})
	if loaded {
		return c, true
	}

	a.dispatch(func(h peripheral.RequestHandler, _ peripheral.Definition) {
		h.OnConnectionStateChange(addr, peripheral.Connected)
	})

	groutine.Go(ctx, "central-"+string(addr), func(ctx context.Context) {
		select {
		case <-conn.Disconnected():
		case <-ctx.Done():
			return
		}
		a.centrals.Del(string(addr))
		if sink := c.currentSink(); sink != nil {
			sink.Close()
		}
		a.dispatch(func(h peripheral.RequestHandler, _ peripheral.Definition) {
			h.OnConnectionStateChange(addr, peripheral.Disconnected)
		})
	})
	return c, true
}

func (a *Adapter) dispatch(fn func(h peripheral.RequestHandler, def peripheral.Definition)) {
	a.dispatchMu.Lock()
	defer a.dispatchMu.Unlock()

	a.mu.Lock()
	h, def := a.handler, a.def
	a.mu.Unlock()
	if h == nil {
		return
	}
	fn(h, def)
}
