package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/blemote/pkg/payload"
	"golang.org/x/term"
)

var layoutCmd = &cobra.Command{
	Use:   "layout",
	Short: "Show the payload wire layout",
	Long: `Prints every payload field with its byte offset and type. All values are
little-endian; the record is always 32 bytes.

Examples:
  blemote layout
  blemote layout --format json`,
	Args: cobra.NoArgs,
	RunE: runLayout,
}

var layoutFormat string

func init() {
	layoutCmd.Flags().StringVar(&layoutFormat, "format", "table", "Output format: table or json")
}

func runLayout(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	switch layoutFormat {
	case "table":
		cmd.SilenceUsage = true
		return displayLayoutTable(out, isTerminal(out))
	case "json":
		cmd.SilenceUsage = true
		return displayLayoutJSON(out)
	default:
		return fmt.Errorf("%w: %q (must be table or json)", ErrInvalidFormat, layoutFormat)
	}
}

func displayLayoutTable(out io.Writer, colored bool) error {
	header := color.New(color.Bold)
	intType := color.New(color.FgCyan)
	floatType := color.New(color.FgGreen)
	if colored {
		header.EnableColor()
		intType.EnableColor()
		floatType.EnableColor()
	} else {
		header.DisableColor()
		intType.DisableColor()
		floatType.DisableColor()
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, header.Sprint("OFFSET\tFIELD\tTYPE\tWIDTH"))
	for _, spec := range payload.Layout() {
		typ := intType
		if spec.Kind == payload.KindFloat32 {
			typ = floatType
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\n", spec.Offset, spec.Name, typ.Sprint(spec.Type), spec.Width())
	}
	fmt.Fprintf(w, "\t\ttotal\t%d\n", payload.Size)
	return w.Flush()
}

func displayLayoutJSON(out io.Writer) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload.Layout())
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
