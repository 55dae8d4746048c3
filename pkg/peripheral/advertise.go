package peripheral

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blemote/internal/groutine"
)

// AdvertiseMode trades advertising interval against power.
type AdvertiseMode int

const (
	AdvertiseLowPower AdvertiseMode = iota
	AdvertiseBalanced
	AdvertiseLowLatency
)

var advertiseModeNames = map[AdvertiseMode]string{
	AdvertiseLowPower:   "low_power",
	AdvertiseBalanced:   "balanced",
	AdvertiseLowLatency: "low_latency",
}

func (m AdvertiseMode) String() string {
	if s, ok := advertiseModeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// Interval is the nominal advertising interval of the mode.
func (m AdvertiseMode) Interval() time.Duration {
	switch m {
	case AdvertiseLowLatency:
		return 100 * time.Millisecond
	case AdvertiseBalanced:
		return 250 * time.Millisecond
	default:
		return time.Second
	}
}

func ParseAdvertiseMode(s string) (AdvertiseMode, error) {
	for m, name := range advertiseModeNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("invalid advertise mode: %q (must be low_power, balanced or low_latency)", s)
}

// TxPowerLevel is the advertising transmit power.
type TxPowerLevel int

const (
	TxPowerUltraLow TxPowerLevel = iota
	TxPowerLow
	TxPowerMedium
	TxPowerHigh
)

var txPowerNames = map[TxPowerLevel]string{
	TxPowerUltraLow: "ultra_low",
	TxPowerLow:      "low",
	TxPowerMedium:   "medium",
	TxPowerHigh:     "high",
}

func (p TxPowerLevel) String() string {
	if s, ok := txPowerNames[p]; ok {
		return s
	}
	return fmt.Sprintf("tx_power(%d)", int(p))
}

// DBm is the nominal output power of the level.
func (p TxPowerLevel) DBm() int8 {
	switch p {
	case TxPowerHigh:
		return 1
	case TxPowerMedium:
		return -7
	case TxPowerLow:
		return -15
	default:
		return -21
	}
}

func ParseTxPowerLevel(s string) (TxPowerLevel, error) {
	for p, name := range txPowerNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("invalid tx power level: %q (must be ultra_low, low, medium or high)", s)
}

// AdvertiseSettings are fixed for the lifetime of the controller.
type AdvertiseSettings struct {
	Mode              AdvertiseMode
	TxPower           TxPowerLevel
	Connectable       bool
	IncludeDeviceName bool
	IncludeTxPower    bool
	ServiceData       []byte

	// Settle is how long Start waits for the backend to report an early failure.
	Settle time.Duration
}

func DefaultAdvertiseSettings() AdvertiseSettings {
	return AdvertiseSettings{
		Mode:              AdvertiseLowLatency,
		TxPower:           TxPowerHigh,
		Connectable:       true,
		IncludeDeviceName: true,
		IncludeTxPower:    false,
		ServiceData:       []byte("Data"),
		Settle:            200 * time.Millisecond,
	}
}

// AdvertiseController runs one advertising session at a time.
// Start and Stop are idempotent.
type AdvertiseController struct {
	name     string
	settings AdvertiseSettings
	logger   *logrus.Logger

	mu      sync.Mutex
	running bool
	gen     uint64
	cancel  context.CancelFunc
	done    chan struct{}
	onLost  func(error)
}

func NewAdvertiseController(name string, settings AdvertiseSettings, logger *logrus.Logger) *AdvertiseController {
	if logger == nil {
		logger = logrus.New()
	}
	return &AdvertiseController{
		name:     name,
		settings: settings,
		logger:   logger,
	}
}

func (a *AdvertiseController) Settings() AdvertiseSettings {
	return a.settings
}

// OnLost registers fn to run when a session ends without Stop. It is called
// without the controller lock held.
func (a *AdvertiseController) OnLost(fn func(error)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onLost = fn
}

func (a *AdvertiseController) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// Start begins advertising service on adv. A failure reported by the backend
// within the settle window is logged and returned, the controller stays stopped.
func (a *AdvertiseController) Start(adv Advertiser, service ble.UUID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return nil
	}

	log := a.logger.WithFields(logrus.Fields{
		"service":  service.String(),
		"mode":     a.settings.Mode,
		"tx_power": a.settings.TxPower,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	errCh := make(chan error, 1)
	advertisement := Advertisement{
		LocalName: a.name,
		Services:  []ble.UUID{service},
		Settings:  a.settings,
	}

	groutine.Go(ctx, "advertise", func(ctx context.Context) {
		defer close(done)
		errCh <- adv.Advertise(ctx, advertisement)
	})

	fail := func(err error) error {
		cancel()
		<-done
		if err == nil {
			err = fmt.Errorf("advertiser returned immediately")
		}
		log.WithError(err).Error("Advertising failed to start")
		return fmt.Errorf("%w: %w", ErrAdvertiseFailed, err)
	}

	timer := time.NewTimer(a.settings.Settle)
	defer timer.Stop()
	select {
	case err := <-errCh:
		return fail(err)
	case <-timer.C:
	}
	select {
	case err := <-errCh:
		return fail(err)
	default:
	}

	a.gen++
	gen := a.gen
	a.running = true
	a.cancel = cancel
	a.done = done

	groutine.Go(context.Background(), "advertise-watch", func(context.Context) {
		<-done
		var err error
		select {
		case err = <-errCh:
		default:
		}

		a.mu.Lock()
		if !a.running || a.gen != gen {
			a.mu.Unlock()
			return
		}
		a.running = false
		a.cancel = nil
		a.done = nil
		onLost := a.onLost
		a.mu.Unlock()

		cancel()
		a.logger.WithError(err).Warn("Advertising stopped unexpectedly")
		if onLost != nil {
			onLost(err)
		}
	})

	log.Info("Advertising started")
	return nil
}

// Stop halts advertising and waits for the backend to return.
func (a *AdvertiseController) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return
	}
	a.running = false
	a.cancel()
	<-a.done
	a.cancel = nil
	a.done = nil
	a.logger.Info("Advertising stopped")
}
