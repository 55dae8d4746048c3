package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blemote/internal/groutine"
	"github.com/srg/blemote/internal/input"
	"github.com/srg/blemote/pkg/config"
	"github.com/srg/blemote/pkg/peripheral"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the peripheral on the local Bluetooth adapter",
	Long: `Advertises the remote-control service and serves the payload to subscribed
centrals. Input events are JSON lines, one per line:

  {"button":{"index":0,"state":1}}
  {"motion":{"x":1.5,"y":-2}}
  {"orientation":{"x":0,"y":0,"z":0,"w":1}}
  {"field":"quatX","value":0.5}
  {"adapter":"on"}          (with --adapter-source input)

Each notification carries the whole 32-byte record, so centrals must
negotiate an ATT MTU of at least 35. With the default MTU of 23 the
record is not notified; such centrals can still read it.

Examples:
  # Feed events from another program
  sensor-reader | blemote serve

  # Follow the adapter power switch through BlueZ
  blemote serve --adapter-source bluez

  # Expose a PTY that other programs can write events to
  blemote serve --input pty

  # Drive it from the keyboard in another terminal
  blemote pad --emit | blemote serve`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveName          string
	serveHCI           int
	serveAdapterSource string
	serveInput         string
)

func init() {
	serveCmd.Flags().StringVar(&serveName, "name", "", "Advertised device name (overrides config)")
	serveCmd.Flags().IntVar(&serveHCI, "hci", 0, "HCI device index on Linux (overrides config)")
	serveCmd.Flags().StringVar(&serveAdapterSource, "adapter-source", "", "Adapter events: static, bluez or input (overrides config)")
	serveCmd.Flags().StringVar(&serveInput, "input", "", "Input stream: stdin, pty or none (overrides config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("name") {
		cfg.DeviceName = serveName
	}
	if cmd.Flags().Changed("hci") {
		cfg.HCIDevice = serveHCI
	}
	if cmd.Flags().Changed("adapter-source") {
		cfg.AdapterSource = serveAdapterSource
	}
	if cmd.Flags().Changed("input") {
		cfg.Input = serveInput
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var in io.Reader
	switch cfg.Input {
	case config.InputStdin:
		in = stdin
	case config.InputPTY:
		r, closeInput, err := openPTYInput(logger, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer closeInput()
		in = r
	}

	err = serve(ctx, cfg, logger, in)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// serve runs the controller until ctx is done. End of input does not stop
// the peripheral; the last payload stays readable.
func serve(ctx context.Context, cfg *config.Config, logger *logrus.Logger, in io.Reader) error {
	ctrl, err := newController(cfg, logger)
	if err != nil {
		return err
	}

	events := make(chan peripheral.AdapterState, 8)
	stopSource, err := startAdapterSource(ctx, cfg, logger, events)
	if err != nil {
		return err
	}
	defer stopSource()

	if in != nil {
		var adapterEvents chan<- peripheral.AdapterState
		if cfg.AdapterSource == config.AdapterSourceInput {
			adapterEvents = events
		}
		// not joined: a blocked stdin read cannot be interrupted
		groutine.Go(ctx, "input-pump", func(ctx context.Context) {
			err := input.Pump(ctx, in, ctrl, adapterEvents, logger)
			switch {
			case errors.Is(err, context.Canceled):
				return
			case err != nil:
				logger.WithError(err).Error("Input stopped")
				return
			}
			logger.Info("Input closed, serving the last payload")
		})
	}

	return ctrl.Run(ctx, events)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
