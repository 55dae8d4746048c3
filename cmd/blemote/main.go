package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "blemote",
	Short: "BLE remote-control peripheral",
	Long: `Turns the local Bluetooth adapter into a BLE remote-control peripheral.

One GATT service carries a 32-byte READ|NOTIFY payload (two button states,
a 2D motion vector and an orientation quaternion). Centrals subscribe through
the CCCD and receive the payload every time the input changes.

- serve     advertise and feed the payload from JSON-lines input
- pad       drive the payload from the keyboard
- layout    show the payload wire layout
- encode    encode JSON-lines input into payload bytes
- simulate  run a scenario against an in-memory radio`,
	Version: fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(padCmd)
	rootCmd.AddCommand(layoutCmd)
	rootCmd.AddCommand(encodeCmd)
	rootCmd.AddCommand(simulateCmd)

	// Global flags
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file")

	// Add -v as a short flag for --version
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
