package peripheral

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/srg/blemote/pkg/payload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type controllerFixture struct {
	adapter   *MockAdapter
	link      *recordingLink
	handler   RequestHandler
	acquired  int
	adv       *AdvertiseController
	ctrl      *Controller
	factory   AdapterFactory
	factoryOK bool
}

func newControllerFixture(t *testing.T) *controllerFixture {
	t.Helper()
	logger := debugLogger()

	f := &controllerFixture{
		adapter:   &MockAdapter{},
		link:      newRecordingLink(),
		factoryOK: true,
	}
	f.factory = func() (Adapter, error) {
		f.acquired++
		if !f.factoryOK {
			return nil, nil
		}
		return f.adapter, nil
	}

	gatt := NewGattService(DefaultDefinition(), logger)
	f.adv = NewAdvertiseController("blemote", testSettings(), logger)
	f.ctrl = NewController(f.factory, gatt, f.adv, logger)
	return f
}

func (f *controllerFixture) expectHealthyAdapter() {
	f.adapter.On("Advertise", mock.Anything, mock.Anything).Run(blockUntilDone).Return(nil)
	f.adapter.On("OpenGattServer", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		f.handler = args.Get(1).(RequestHandler)
	}).Return(f.link, nil)
	f.adapter.On("CloseGattServer").Return(nil)
	f.adapter.On("Release").Return(nil)
}

func TestController_ActivateDeactivateOrder(t *testing.T) {
	f := newControllerFixture(t)
	f.expectHealthyAdapter()

	var states []State
	f.ctrl.OnStateChange(func(s State) { states = append(states, s) })

	require.NoError(t, f.ctrl.Activate())
	assert.Equal(t, Active, f.ctrl.State())
	require.NoError(t, f.ctrl.Deactivate())
	assert.Equal(t, Inactive, f.ctrl.State())

	assert.Equal(t, []string{"Advertise", "OpenGattServer", "CloseGattServer", "Release"}, callOrder(f.adapter))
	assert.Equal(t, []State{Active, Inactive}, states)
}

func TestController_ActivateTwiceIsNoop(t *testing.T) {
	f := newControllerFixture(t)
	f.expectHealthyAdapter()

	require.NoError(t, f.ctrl.Activate())
	require.NoError(t, f.ctrl.Activate())

	f.adapter.AssertNumberOfCalls(t, "Advertise", 1)
	f.adapter.AssertNumberOfCalls(t, "OpenGattServer", 1)
	assert.Equal(t, 1, f.acquired)

	require.NoError(t, f.ctrl.Deactivate())
	require.NoError(t, f.ctrl.Deactivate())
	f.adapter.AssertNumberOfCalls(t, "CloseGattServer", 1)
}

func TestController_AdvertisingLossClosesServer(t *testing.T) {
	f := newControllerFixture(t)
	lost := make(chan struct{})
	f.adapter.On("Advertise", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		select {
		case <-lost:
		case <-args.Get(0).(context.Context).Done():
		}
	}).Return(errors.New("controller reset")).Once()
	f.expectHealthyAdapter()

	require.NoError(t, f.ctrl.Activate())
	require.True(t, f.ctrl.GattService().IsOpen())

	close(lost)
	require.Eventually(t, func() bool { return f.ctrl.State() == Inactive }, time.Second, 5*time.Millisecond)
	assert.False(t, f.ctrl.GattService().IsOpen(), "server must not outlive advertising")
	assert.False(t, f.adv.IsRunning())
	f.adapter.AssertNumberOfCalls(t, "Release", 1)

	f.ctrl.OnAdapterState(AdapterOn)
	assert.Equal(t, Active, f.ctrl.State())
	assert.True(t, f.ctrl.GattService().IsOpen())
	assert.True(t, f.adv.IsRunning())
	f.adapter.AssertNumberOfCalls(t, "Advertise", 2)

	require.NoError(t, f.ctrl.Deactivate())
}

func TestController_ActivateRepairsStoppedAdvertising(t *testing.T) {
	f := newControllerFixture(t)
	f.expectHealthyAdapter()

	var states []State
	f.ctrl.OnStateChange(func(s State) { states = append(states, s) })

	require.NoError(t, f.ctrl.Activate())
	f.adv.Stop()

	require.NoError(t, f.ctrl.Activate())
	assert.Equal(t, Active, f.ctrl.State())
	assert.True(t, f.adv.IsRunning())
	assert.True(t, f.ctrl.GattService().IsOpen())
	assert.Equal(t, []State{Active, Inactive, Active}, states)
	assert.Equal(t, []string{"Advertise", "OpenGattServer", "CloseGattServer", "Release", "Advertise", "OpenGattServer"},
		callOrder(f.adapter))

	require.NoError(t, f.ctrl.Deactivate())
}

func TestController_NoAdapterPresent(t *testing.T) {
	f := newControllerFixture(t)
	f.factoryOK = false

	require.NoError(t, f.ctrl.Activate())
	assert.Equal(t, Inactive, f.ctrl.State())
	f.adapter.AssertNotCalled(t, "Advertise", mock.Anything, mock.Anything)
}

func TestController_AdvertiseFailureStaysInactive(t *testing.T) {
	f := newControllerFixture(t)
	f.adapter.On("Advertise", mock.Anything, mock.Anything).Return(errors.New("too many advertisers"))
	f.adapter.On("Release").Return(nil)

	err := f.ctrl.Activate()
	assert.ErrorIs(t, err, ErrAdvertiseFailed)
	assert.Equal(t, Inactive, f.ctrl.State())
	f.adapter.AssertNotCalled(t, "OpenGattServer", mock.Anything, mock.Anything)
	f.adapter.AssertCalled(t, "Release")
}

func TestController_OpenFailureRollsBackAdvertising(t *testing.T) {
	f := newControllerFixture(t)
	f.adapter.On("Advertise", mock.Anything, mock.Anything).Run(blockUntilDone).Return(nil)
	f.adapter.On("OpenGattServer", mock.Anything, mock.Anything).Return(nil, ErrAdapterUnavailable)
	f.adapter.On("Release").Return(nil)

	err := f.ctrl.Activate()
	assert.ErrorIs(t, err, ErrAdapterUnavailable)
	assert.Equal(t, Inactive, f.ctrl.State())
	assert.False(t, f.ctrl.adv.IsRunning())
}

func TestController_FactoryError(t *testing.T) {
	f := newControllerFixture(t)
	f.ctrl.factory = func() (Adapter, error) { return nil, ErrAdapterUnavailable }

	assert.ErrorIs(t, f.ctrl.Activate(), ErrAdapterUnavailable)
	assert.Equal(t, Inactive, f.ctrl.State())
}

func TestController_SubscribePublishUnsubscribe(t *testing.T) {
	f := newControllerFixture(t)
	f.expectHealthyAdapter()

	f.ctrl.OnAdapterState(AdapterOn)
	require.Equal(t, Active, f.ctrl.State())
	require.NotNil(t, f.handler)

	f.handler.OnConnectionStateChange(d1, Connected)
	f.handler.OnDescriptorWriteRequest(d1, 1, CCCDUUID, true, 0, EnableNotificationValue)

	sent, err := f.ctrl.Publish(payload.Motion{X: 10, Y: 0})
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	notes := f.link.takeNotifications()
	require.Len(t, notes, 1)
	assert.Equal(t, d1, notes[0].Dev)

	f.handler.OnDescriptorWriteRequest(d1, 2, CCCDUUID, true, 0, DisableNotificationValue)
	sent, err = f.ctrl.Publish(payload.Motion{X: 11, Y: 0})
	require.NoError(t, err)
	assert.Zero(t, sent)

	f.ctrl.OnAdapterState(AdapterOff)
	assert.Equal(t, Inactive, f.ctrl.State())
}

func TestController_PublishWhileInactiveUpdatesBuffer(t *testing.T) {
	f := newControllerFixture(t)

	sent, err := f.ctrl.Publish(payload.Button{Index: 0, State: 1})
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Equal(t, []byte{1, 0, 0, 0}, f.ctrl.GattService().Snapshot()[:4])
}

func TestController_RunDeactivatesOnExit(t *testing.T) {
	f := newControllerFixture(t)
	f.expectHealthyAdapter()

	events := make(chan AdapterState)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.ctrl.Run(ctx, events) }()

	events <- AdapterOn
	assert.Eventually(t, func() bool { return f.ctrl.State() == Active }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		require.FailNow(t, "Run did not return")
	}
	assert.Equal(t, Inactive, f.ctrl.State())
	f.adapter.AssertCalled(t, "Release")
}

func TestController_RunReturnsWhenEventsClose(t *testing.T) {
	f := newControllerFixture(t)
	events := make(chan AdapterState)
	close(events)
	assert.NoError(t, f.ctrl.Run(context.Background(), events))
}
