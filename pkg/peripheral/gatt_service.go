package peripheral

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blemote/pkg/payload"
)

// GattService owns the payload buffer and the subscriber registry and answers
// GATT requests for the single characteristic it exposes.
//
// Buffer and registry share one lock. Responses and notifications are handed
// to the Link outside of it.
type GattService struct {
	def    Definition
	logger *logrus.Logger

	mu       sync.Mutex
	buf      *payload.Buffer
	registry *Registry
	server   GattServer
	link     Link
	listener func(subscribers int)

	// serializes snapshot+notify so concurrent publishers cannot reorder values
	notifyMu sync.Mutex
}

var _ RequestHandler = (*GattService)(nil)

func NewGattService(def Definition, logger *logrus.Logger) *GattService {
	if logger == nil {
		logger = logrus.New()
	}
	return &GattService{
		def:      def,
		logger:   logger,
		buf:      payload.New(),
		registry: NewRegistry(),
	}
}

func (s *GattService) Definition() Definition {
	return s.def
}

// OnSubscribersChanged registers a callback fired with the subscriber count
// after every recognized CCCD write or subscriber disconnect.
func (s *GattService) OnSubscribersChanged(fn func(subscribers int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = fn
}

// Open registers the service with the platform GATT server.
func (s *GattService) Open(server GattServer) error {
	s.mu.Lock()
	if s.server != nil {
		s.mu.Unlock()
		return ErrServerAlreadyOpen
	}
	s.mu.Unlock()

	link, err := server.OpenGattServer(s.def, s)
	if err != nil {
		return fmt.Errorf("failed to open GATT server: %w", err)
	}

	s.mu.Lock()
	s.server = server
	s.link = link
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"service":        s.def.Service.String(),
		"characteristic": s.def.Characteristic.String(),
	}).Info("GATT server opened")
	return nil
}

// Close unregisters the service and forgets every subscriber.
func (s *GattService) Close() error {
	s.mu.Lock()
	server := s.server
	hadSubscribers := s.registry.Len() > 0
	s.server = nil
	s.link = nil
	s.registry.Clear()
	listener := s.listener
	s.mu.Unlock()

	if server == nil {
		return nil
	}
	if hadSubscribers && listener != nil {
		listener(0)
	}

	if err := server.CloseGattServer(); err != nil {
		return fmt.Errorf("failed to close GATT server: %w", err)
	}
	s.logger.Info("GATT server closed")
	return nil
}

// IsOpen reports whether a GATT server is registered.
func (s *GattService) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.server != nil
}

func (s *GattService) IsSubscribed(dev Device) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.IsSubscribed(dev)
}

// Subscribers returns a snapshot of subscribed devices.
func (s *GattService) Subscribers() []Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.All()
}

// Snapshot returns a copy of the current payload.
func (s *GattService) Snapshot() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Bytes()
}

func (s *GattService) OnConnectionStateChange(dev Device, state ConnectionState) {
	log := s.logger.WithFields(logrus.Fields{"device": dev, "state": state})
	if state != Disconnected {
		log.Info("Central connected")
		return
	}

	s.mu.Lock()
	removed := s.registry.Unsubscribe(dev)
	count := s.registry.Len()
	listener := s.listener
	s.mu.Unlock()

	log.WithField("subscribers", count).Info("Central disconnected")
	if removed && listener != nil {
		listener(count)
	}
}

func (s *GattService) OnCharacteristicReadRequest(dev Device, requestID int, offset int, char ble.UUID) {
	log := s.logger.WithFields(logrus.Fields{"device": dev, "request_id": requestID, "uuid": char.String()})

	s.mu.Lock()
	link := s.link
	known := SameUUID(char, s.def.Characteristic)
	var value []byte
	if known {
		value = s.buf.Bytes()
	}
	s.mu.Unlock()

	if !known {
		log.Warn("Read of unknown characteristic")
		s.respond(link, dev, requestID, StatusFailure, offset, nil)
		return
	}
	log.Debug("Characteristic read")
	s.respond(link, dev, requestID, ble.ErrSuccess, offset, value)
}

// OnCharacteristicWriteRequest logs the write. The characteristic is read-only,
// a requested response is answered with write-not-permitted.
func (s *GattService) OnCharacteristicWriteRequest(dev Device, requestID int, char ble.UUID, responseNeeded bool, offset int, value []byte) {
	s.logger.WithFields(logrus.Fields{
		"device":     dev,
		"request_id": requestID,
		"uuid":       char.String(),
		"value":      fmt.Sprintf("% x", value),
	}).Warn("Write to read-only characteristic ignored")

	if !responseNeeded {
		return
	}
	s.mu.Lock()
	link := s.link
	s.mu.Unlock()
	s.respond(link, dev, requestID, ble.ErrWriteNotPerm, offset, nil)
}

func (s *GattService) OnDescriptorReadRequest(dev Device, requestID int, offset int, desc ble.UUID) {
	log := s.logger.WithFields(logrus.Fields{"device": dev, "request_id": requestID, "uuid": desc.String()})

	s.mu.Lock()
	link := s.link
	known := SameUUID(desc, s.def.Descriptor.UUID)
	subscribed := known && s.registry.IsSubscribed(dev)
	s.mu.Unlock()

	if !known {
		log.Warn("Read of unknown descriptor")
		s.respond(link, dev, requestID, StatusFailure, offset, nil)
		return
	}

	value := DisableNotificationValue
	if subscribed {
		value = EnableNotificationValue
	}
	log.WithField("subscribed", subscribed).Debug("CCCD read")
	s.respond(link, dev, requestID, ble.ErrSuccess, offset, append([]byte(nil), value...))
}

func (s *GattService) OnDescriptorWriteRequest(dev Device, requestID int, desc ble.UUID, responseNeeded bool, offset int, value []byte) {
	log := s.logger.WithFields(logrus.Fields{"device": dev, "request_id": requestID, "uuid": desc.String()})

	if !SameUUID(desc, s.def.Descriptor.UUID) {
		log.Warn("Write to unknown descriptor")
		if responseNeeded {
			s.mu.Lock()
			link := s.link
			s.mu.Unlock()
			s.respond(link, dev, requestID, StatusFailure, offset, nil)
		}
		return
	}

	s.mu.Lock()
	recognized := true
	switch {
	case bytes.Equal(value, EnableNotificationValue):
		s.registry.Subscribe(dev)
	case bytes.Equal(value, DisableNotificationValue):
		s.registry.Unsubscribe(dev)
	default:
		recognized = false
	}
	count := s.registry.Len()
	link := s.link
	listener := s.listener
	s.mu.Unlock()

	if recognized {
		log.WithFields(logrus.Fields{
			"subscribed":  bytes.Equal(value, EnableNotificationValue),
			"subscribers": count,
		}).Info("Notification subscription changed")
		if listener != nil {
			listener(count)
		}
	} else {
		log.WithField("value", fmt.Sprintf("% x", value)).Warn("Unrecognized CCCD value ignored")
	}

	if responseNeeded {
		s.respond(link, dev, requestID, ble.ErrSuccess, offset, nil)
	}
}

// Publish applies samples atomically and notifies every subscriber with the
// resulting payload. On error the buffer is left untouched.
func (s *GattService) Publish(samples ...payload.Sample) (int, error) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	next := *s.buf
	for _, sample := range samples {
		if err := sample.Apply(&next); err != nil {
			s.mu.Unlock()
			return 0, fmt.Errorf("failed to apply sample %v: %w", sample, err)
		}
	}
	*s.buf = next
	value := s.buf.Bytes()
	devices := s.registry.All()
	link := s.link
	s.mu.Unlock()

	return s.notify(link, devices, value), nil
}

// NotifySubscribers pushes the current payload to every subscriber and
// returns how many notifications were handed off.
func (s *GattService) NotifySubscribers() int {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	value := s.buf.Bytes()
	devices := s.registry.All()
	link := s.link
	s.mu.Unlock()

	return s.notify(link, devices, value)
}

func (s *GattService) notify(link Link, devices []Device, value []byte) int {
	if link == nil || len(devices) == 0 {
		return 0
	}
	sent := 0
	for _, dev := range devices {
		if err := link.Notify(dev, s.def.Characteristic, value); err != nil {
			s.logger.WithError(err).WithField("device", dev).Debug("Notification dropped")
			continue
		}
		sent++
	}
	return sent
}

func (s *GattService) respond(link Link, dev Device, requestID int, status ble.ATTError, offset int, value []byte) {
	if link == nil {
		s.logger.WithFields(logrus.Fields{"device": dev, "request_id": requestID}).Warn("No GATT server to respond on")
		return
	}
	if err := link.SendResponse(dev, requestID, status, offset, value); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{"device": dev, "request_id": requestID}).Warn("Failed to send response")
	}
}
