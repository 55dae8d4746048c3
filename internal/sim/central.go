package sim

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-ble/ble"
	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/srg/blemote/pkg/peripheral"
)

var ErrDisconnected = errors.New("central disconnected")

// Response is what the peripheral answered to one request.
type Response struct {
	RequestID int
	Status    ble.ATTError
	Offset    int
	Value     []byte
}

// Notification is one value pushed to a central.
type Notification struct {
	Characteristic string
	Value          []byte
}

// Central is the remote side of a simulated connection.
type Central struct {
	radio *Radio
	addr  peripheral.Device

	mu        sync.Mutex
	responses map[int]Response
	gone      bool

	history     mpmc.RichOverlappedRingBuffer[Notification]
	received    atomic.Int64
	overwritten atomic.Int64
}

func newCentral(r *Radio, addr peripheral.Device, historySize uint32) *Central {
	return &Central{
		radio:     r,
		addr:      addr,
		responses: map[int]Response{},
		history:   mpmc.NewOverlappedRingBuffer[Notification](historySize),
	}
}

func (c *Central) Address() peripheral.Device {
	return c.addr
}

// Disconnect drops the link. It is a no-op when already disconnected.
func (c *Central) Disconnect() {
	c.radio.disconnect(c)
}

// ReadCharacteristic issues a read at offset 0.
func (c *Central) ReadCharacteristic(uuid ble.UUID) (Response, error) {
	rsp, _, err := c.request(func(h peripheral.RequestHandler, id int) {
		h.OnCharacteristicReadRequest(c.addr, id, 0, uuid)
	})
	return rsp, err
}

// WriteCharacteristic issues a write. answered is false when no response was sent.
func (c *Central) WriteCharacteristic(uuid ble.UUID, value []byte, withResponse bool) (rsp Response, answered bool, err error) {
	return c.request(func(h peripheral.RequestHandler, id int) {
		h.OnCharacteristicWriteRequest(c.addr, id, uuid, withResponse, 0, value)
	})
}

func (c *Central) ReadDescriptor(uuid ble.UUID) (Response, error) {
	rsp, _, err := c.request(func(h peripheral.RequestHandler, id int) {
		h.OnDescriptorReadRequest(c.addr, id, 0, uuid)
	})
	return rsp, err
}

func (c *Central) WriteDescriptor(uuid ble.UUID, value []byte, withResponse bool) (rsp Response, answered bool, err error) {
	return c.request(func(h peripheral.RequestHandler, id int) {
		h.OnDescriptorWriteRequest(c.addr, id, uuid, withResponse, 0, value)
	})
}

// Subscribe writes the enable value to the CCCD and checks the response.
func (c *Central) Subscribe() error {
	return c.writeCCCD(peripheral.EnableNotificationValue)
}

// Unsubscribe writes the disable value to the CCCD and checks the response.
func (c *Central) Unsubscribe() error {
	return c.writeCCCD(peripheral.DisableNotificationValue)
}

func (c *Central) writeCCCD(value []byte) error {
	rsp, answered, err := c.WriteDescriptor(peripheral.CCCDUUID, value, true)
	if err != nil {
		return err
	}
	if !answered {
		return fmt.Errorf("CCCD write to %s was not answered", c.addr)
	}
	if rsp.Status != ble.ErrSuccess {
		return fmt.Errorf("CCCD write to %s failed: status 0x%02x", c.addr, uint8(rsp.Status))
	}
	return nil
}

// Notifications drains the notifications received since the last call.
func (c *Central) Notifications() []Notification {
	var out []Notification
	for !c.history.IsEmpty() {
		n, err := c.history.Dequeue()
		if err != nil {
			break
		}
		out = append(out, n)
	}
	return out
}

// Received is the total number of notifications delivered to this central.
func (c *Central) Received() int64 {
	return c.received.Load()
}

// Overwritten counts notifications lost because history was full.
func (c *Central) Overwritten() int64 {
	return c.overwritten.Load()
}

func (c *Central) request(fn func(h peripheral.RequestHandler, id int)) (Response, bool, error) {
	c.mu.Lock()
	gone := c.gone
	c.mu.Unlock()
	if gone {
		return Response{}, false, ErrDisconnected
	}

	id := c.radio.newRequestID()
	open := c.radio.dispatch(func(h peripheral.RequestHandler, _ peripheral.Definition) {
		fn(h, id)
	})
	if !open {
		return Response{}, false, peripheral.ErrServerNotOpen
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	rsp, ok := c.responses[id]
	delete(c.responses, id)
	return rsp, ok, nil
}

func (c *Central) record(rsp Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses[rsp.RequestID] = rsp
}

func (c *Central) deliver(n Notification) error {
	overwrites, err := c.history.EnqueueM(n)
	if err != nil {
		return fmt.Errorf("history enqueue: %w", err)
	}
	c.received.Add(1)
	c.overwritten.Add(int64(overwrites))
	return nil
}

func (c *Central) markGone() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gone = true
}
