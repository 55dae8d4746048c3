package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/srg/blemote/internal/bluez"
	"github.com/srg/blemote/internal/goble"
	"github.com/srg/blemote/internal/groutine"
	"github.com/srg/blemote/pkg/config"
	"github.com/srg/blemote/pkg/peripheral"
)

// newAdapterFactory opens the platform adapter. Tests replace it with a
// simulated radio.
var newAdapterFactory = func(cfg *config.Config, logger *logrus.Logger) peripheral.AdapterFactory {
	return goble.NewAdapterFactory(goble.Options{DeviceID: cfg.HCIDevice}, logger)
}

// stdin is the input stream for --input stdin.
var stdin io.Reader = os.Stdin

// newController wires the GATT service and advertiser from the config.
func newController(cfg *config.Config, logger *logrus.Logger) (*peripheral.Controller, error) {
	def, err := cfg.Definition()
	if err != nil {
		return nil, err
	}
	settings, err := cfg.AdvertiseSettings()
	if err != nil {
		return nil, err
	}

	gatt := peripheral.NewGattService(def, logger)
	adv := peripheral.NewAdvertiseController(cfg.DeviceName, settings, logger)
	return peripheral.NewController(newAdapterFactory(cfg, logger), gatt, adv, logger), nil
}

// startAdapterSource feeds adapter events for the static and bluez sources.
// The input source is fed by the input pump instead.
func startAdapterSource(ctx context.Context, cfg *config.Config, logger *logrus.Logger, events chan<- peripheral.AdapterState) (func(), error) {
	switch cfg.AdapterSource {
	case config.AdapterSourceStatic:
		events <- peripheral.AdapterOn
		return func() {}, nil

	case config.AdapterSourceBlueZ:
		w, err := bluez.Connect(cfg.BlueZAdapter, logger)
		if err != nil {
			return nil, err
		}
		done := groutine.Spawn(ctx, "bluez-watch", func(ctx context.Context) {
			if err := w.Watch(ctx, events); err != nil && !errors.Is(err, context.Canceled) {
				logger.WithError(err).Error("Adapter watcher stopped")
			}
		})
		return func() {
			_ = w.Close()
			<-done
		}, nil

	case config.AdapterSourceInput:
		return func() {}, nil

	default:
		return nil, fmt.Errorf("unknown adapter source: %q", cfg.AdapterSource)
	}
}
