package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/bryanchriswhite/ScreenBridge/internal/bridge"
	"github.com/bryanchriswhite/ScreenBridge/internal/probe"
	"github.com/spf13/cobra"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check whether screen capture is available",
	Long: `Run the capability probe: the OS version gate and the capture backend's
presence check. Exits with status 1 when capture is not available.`,
	Example: `  # Human readable report
  screenbridge probe

  # JSON report
  screenbridge probe --format json`,
	RunE: runProbe,
}

var probeFormat string

func init() {
	rootCmd.AddCommand(probeCmd)

	probeCmd.Flags().StringVarP(&probeFormat, "format", "f", "table", "output format (table or json)")
}

func runProbe(cmd *cobra.Command, args []string) error {
	_, b, err := openBridge(cmd)
	if err != nil {
		return err
	}
	defer b.Close()

	report := b.Report()
	switch probeFormat {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(report); err != nil {
			return err
		}
	case "table":
		printReport(report)
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", probeFormat)
	}

	if !report.Available {
		return &codeError{code: bridge.NotAvailable}
	}
	return nil
}

func printReport(r probe.Report) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	available := "No"
	if r.Available {
		available = "Yes"
	}
	minVersion := r.MinVersion
	if minVersion == "" {
		minVersion = "-"
	}

	fmt.Fprintf(w, "Available:\t%s\n", available)
	fmt.Fprintf(w, "OS:\t%s %s\n", r.OS, r.Version)
	fmt.Fprintf(w, "Minimum OS:\t%s\n", minVersion)
	fmt.Fprintf(w, "Backend:\t%s\n", r.Backend)
	if r.Reason != "" {
		fmt.Fprintf(w, "Reason:\t%s\n", r.Reason)
	}
}
