package peripheral

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/blemote/pkg/payload"
)

// Controller ties advertising and the GATT server to the adapter power state.
// Advertising always starts before the server opens and stops after it closes.
type Controller struct {
	factory AdapterFactory
	gatt    *GattService
	adv     *AdvertiseController
	logger  *logrus.Logger

	mu       sync.Mutex
	state    State
	adapter  Adapter
	onChange func(State)
}

func NewController(factory AdapterFactory, gatt *GattService, adv *AdvertiseController, logger *logrus.Logger) *Controller {
	if logger == nil {
		logger = logrus.New()
	}
	c := &Controller{
		factory: factory,
		gatt:    gatt,
		adv:     adv,
		logger:  logger,
		state:   Inactive,
	}
	adv.OnLost(c.advertisingLost)
	return c
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnStateChange registers a callback fired after every Active/Inactive transition.
func (c *Controller) OnStateChange(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

func (c *Controller) GattService() *GattService {
	return c.gatt
}

// Activate acquires the adapter, starts advertising and opens the GATT server.
// It is a no-op when already Active or when no adapter is present.
func (c *Controller) Activate() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Active {
		if c.adv.IsRunning() {
			return nil
		}
		// advertising died but the loss has not been handled yet
		c.logger.Warn("Advertising not running while active, restarting")
		if err := c.deactivate(); err != nil {
			c.logger.WithError(err).Warn("Teardown before restart failed")
		}
	}

	adapter, err := c.factory()
	if err != nil {
		c.logger.WithError(err).Error("Failed to acquire Bluetooth adapter")
		return fmt.Errorf("failed to acquire adapter: %w", err)
	}
	if adapter == nil {
		c.logger.Warn("No Bluetooth adapter present, staying inactive")
		return nil
	}

	if err := c.adv.Start(adapter, c.gatt.Definition().Service); err != nil {
		c.release(adapter)
		return err
	}

	if err := c.gatt.Open(adapter); err != nil {
		c.logger.WithError(err).Error("Failed to open GATT server")
		c.adv.Stop()
		c.release(adapter)
		return err
	}

	c.adapter = adapter
	c.setState(Active)
	return nil
}

// Deactivate closes the GATT server, stops advertising and releases the adapter.
// The controller ends Inactive even when a step fails.
func (c *Controller) Deactivate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deactivate()
}

func (c *Controller) deactivate() error {
	if c.state == Inactive {
		return nil
	}

	var errs []error
	if err := c.gatt.Close(); err != nil {
		c.logger.WithError(err).Warn("Failed to close GATT server")
		errs = append(errs, err)
	}
	c.adv.Stop()
	if err := c.release(c.adapter); err != nil {
		errs = append(errs, err)
	}

	c.adapter = nil
	c.setState(Inactive)
	return errors.Join(errs...)
}

// advertisingLost tears the session down so the GATT server never outlives
// advertising. The next power-on event starts a fresh session.
func (c *Controller) advertisingLost(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Active || c.adv.IsRunning() {
		return
	}
	c.logger.WithError(err).Warn("Advertising lost, deactivating")
	if err := c.deactivate(); err != nil {
		c.logger.WithError(err).Warn("Deactivate after advertising loss failed")
	}
}

// OnAdapterState activates on power-on and deactivates on power-off.
// Failures are logged; the next power-on retries.
func (c *Controller) OnAdapterState(state AdapterState) {
	c.logger.WithField("adapter", state).Debug("Adapter state changed")

	var err error
	if state == AdapterOn {
		err = c.Activate()
	} else {
		err = c.Deactivate()
	}
	if err != nil {
		c.logger.WithError(err).WithField("adapter", state).Warn("Adapter state transition failed")
	}
}

// Publish updates the payload and notifies subscribers. While Inactive the
// payload is still updated so the first read after activation is current.
func (c *Controller) Publish(samples ...payload.Sample) (int, error) {
	return c.gatt.Publish(samples...)
}

// Run dispatches adapter events until ctx is done or events is closed, then
// deactivates.
func (c *Controller) Run(ctx context.Context, events <-chan AdapterState) error {
	defer func() {
		if err := c.Deactivate(); err != nil {
			c.logger.WithError(err).Warn("Deactivate on shutdown failed")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case state, ok := <-events:
			if !ok {
				return nil
			}
			c.OnAdapterState(state)
		}
	}
}

func (c *Controller) setState(state State) {
	c.state = state
	c.logger.WithField("state", state).Info("Peripheral state changed")
	if c.onChange != nil {
		c.onChange(state)
	}
}

func (c *Controller) release(adapter Adapter) error {
	if adapter == nil {
		return nil
	}
	if err := adapter.Release(); err != nil {
		c.logger.WithError(err).Warn("Failed to release Bluetooth adapter")
		return fmt.Errorf("failed to release adapter: %w", err)
	}
	return nil
}
