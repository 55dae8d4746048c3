package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blemote/internal/groutine"
	"github.com/srg/blemote/internal/input"
	"github.com/srg/blemote/internal/ringchan"
	"github.com/srg/blemote/pkg/config"
	"github.com/srg/blemote/pkg/payload"
	"github.com/srg/blemote/pkg/peripheral"
)

var padCmd = &cobra.Command{
	Use:   "pad",
	Short: "Drive the payload from the keyboard",
	Long: `Interactive pad: arrow keys move the motion vector, 1 and 2 toggle the
buttons, r recenters and q quits.

By default the peripheral runs in-process on the local adapter. With --emit
the pad only writes its events as JSON lines to stdout (the pad itself is
drawn on stderr), for piping into 'blemote serve'.

Examples:
  blemote pad
  blemote pad --step 0.5
  blemote pad --emit | blemote serve`,
	Args: cobra.NoArgs,
	RunE: runPad,
}

const (
	padLogCapacity = 16 * 1024
	padLogLines    = 6
)

var (
	padEmit bool
	padStep float32
)

func init() {
	padCmd.Flags().BoolVar(&padEmit, "emit", false, "Write events as JSON lines to stdout instead of running the peripheral")
	padCmd.Flags().Float32Var(&padStep, "step", 1, "Motion change per key press")
}

func runPad(cmd *cobra.Command, _ []string) error {
	if padStep <= 0 {
		return fmt.Errorf("--step must be positive, got %g", padStep)
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	logs := newLogTail(padLogCapacity, padLogLines)
	logger.SetOutput(logs)

	if padEmit {
		model := newPadModel(emitSink(cmd.OutOrStdout()), padStep, logs)
		_, err := tea.NewProgram(model, tea.WithOutput(cmd.ErrOrStderr())).Run()
		return err
	}
	return runPadPeripheral(commandContext(cmd), cfg, logger, logs)
}

// emitSink writes each sample as one JSON line.
func emitSink(out io.Writer) func(payload.Sample) error {
	var mu sync.Mutex
	return func(s payload.Sample) error {
		line, err := input.Encode(input.Event{Sample: s})
		if err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		_, err = fmt.Fprintf(out, "%s\n", line)
		return err
	}
}

func runPadPeripheral(ctx context.Context, cfg *config.Config, logger *logrus.Logger, logs *logTail) error {
	if cfg.AdapterSource == config.AdapterSourceInput {
		logger.Warn("The pad has no input stream for adapter events, assuming the adapter is on")
		cfg.AdapterSource = config.AdapterSourceStatic
	}

	ctrl, err := newController(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sink := func(s payload.Sample) error {
		_, err := ctrl.Publish(s)
		return err
	}
	program := tea.NewProgram(newPadModel(sink, padStep, logs), tea.WithAltScreen())

	// callbacks fire under peripheral locks; forward without blocking on the UI
	updates := ringchan.New[tea.Msg](16)
	ctrl.OnStateChange(func(s peripheral.State) { updates.Send(peripheralStateMsg(s)) })
	ctrl.GattService().OnSubscribersChanged(func(n int) { updates.Send(subscribersMsg(n)) })
	forwarded := groutine.Spawn(ctx, "pad-updates", func(ctx context.Context) {
		for msg := range updates.C() {
			program.Send(msg)
		}
	})

	events := make(chan peripheral.AdapterState, 8)
	stopSource, err := startAdapterSource(ctx, cfg, logger, events)
	if err != nil {
		return err
	}
	defer stopSource()

	var runErr error
	ran := groutine.Spawn(ctx, "pad-controller", func(ctx context.Context) {
		runErr = ctrl.Run(ctx, events)
	})

	_, uiErr := program.Run()

	cancel()
	<-ran
	updates.Close()
	<-forwarded

	if uiErr != nil {
		return uiErr
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}
