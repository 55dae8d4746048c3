package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/srg/blemote/internal/input"
	"github.com/srg/blemote/pkg/payload"
)

var encodeCmd = &cobra.Command{
	Use:   "encode [file]",
	Short: "Encode JSON-lines input into a payload",
	Long: `Applies every sample from the input (a file, or stdin when omitted) to a zeroed
payload and prints the result. Adapter events are ignored.

Examples:
  echo '{"motion":{"x":10,"y":0}}' | blemote encode
  blemote encode events.jsonl --format fields
  blemote encode events.jsonl --each`,
	Args: cobra.MaximumNArgs(1),
	RunE: runEncode,
}

var (
	encodeFormat string
	encodeEach   bool
)

func init() {
	encodeCmd.Flags().StringVar(&encodeFormat, "format", "hex", "Output format: hex, fields or json")
	encodeCmd.Flags().BoolVar(&encodeEach, "each", false, "Print the payload after every sample instead of once at the end")
}

func runEncode(cmd *cobra.Command, args []string) error {
	switch encodeFormat {
	case "hex", "fields", "json":
	default:
		return fmt.Errorf("%w: %q (must be hex, fields or json)", ErrInvalidFormat, encodeFormat)
	}

	logger, err := configureLogger(cmd, nil)
	if err != nil {
		return err
	}

	var in io.Reader = stdin
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open input: %w", err)
		}
		defer f.Close()
		in = f
	}

	cmd.SilenceUsage = true

	out := cmd.OutOrStdout()
	buf := payload.New()
	dec := input.NewDecoder(in)
	for {
		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if ev.Sample == nil {
			logger.WithField("event", ev.String()).Debug("Ignoring adapter event")
			continue
		}
		if err := ev.Sample.Apply(buf); err != nil {
			return fmt.Errorf("%s: %w", ev, err)
		}
		if encodeEach {
			if err := printPayload(out, buf, encodeFormat); err != nil {
				return err
			}
		}
	}

	if encodeEach {
		return nil
	}
	return printPayload(out, buf, encodeFormat)
}

func printPayload(out io.Writer, buf *payload.Buffer, format string) error {
	switch format {
	case "fields":
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for pair := buf.Values().Oldest(); pair != nil; pair = pair.Next() {
			fmt.Fprintf(w, "%s\t%s\n", pair.Key, strconv.FormatFloat(pair.Value, 'g', -1, 32))
		}
		return w.Flush()
	case "json":
		data, err := buf.Values().MarshalJSON()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "%s\n", data)
		return err
	default:
		_, err := fmt.Fprintln(out, buf.String())
		return err
	}
}
