package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/srg/blehelper/internal/device"
	"github.com/srg/blehelper/internal/session"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for BLE devices",
	Long: `Scan for and display Bluetooth Low Energy devices in the vicinity.

The scan stops when the duration elapses, when Ctrl+C is pressed, or as soon as a
device matching --name or --address is found. Filters are combined with AND.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanFormat   string
	scanName     string
	scanAddress  string
	scanService  string
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "Scan duration (default: scan_timeout from the config)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().StringVar(&scanName, "name", "", "Only report devices advertising this name")
	scanCmd.Flags().StringVar(&scanAddress, "address", "", "Only report the device with this address")
	scanCmd.Flags().StringVarP(&scanService, "service", "s", "", "Only report devices advertising this service UUID")
}

func runScan(cmd *cobra.Command, args []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", scanFormat)
	}
	if scanService != "" {
		if _, err := device.ValidateUUID(scanService); err != nil {
			return fmt.Errorf("invalid service UUID: %w", err)
		}
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	duration := scanDuration
	if duration <= 0 {
		duration = a.cfg.ScanTimeout
	}

	ctx, cancel := interruptContext(context.Background(), a.logger)
	defer cancel()

	progress := NewCountdownProgressPrinter(cmd.ErrOrStderr(), "Scanning for BLE devices", "Scanning", duration)
	progress.Start()
	results, err := a.manager.ScanWait(ctx, session.ScanOptions{
		Name:        scanName,
		Address:     scanAddress,
		ServiceUUID: scanService,
		Timeout:     duration,
	})
	progress.Stop()
	if err != nil {
		return err
	}

	if scanFormat == "json" {
		return displayDevicesJSON(cmd.OutOrStdout(), results)
	}
	return displayDevicesTable(cmd.OutOrStdout(), results)
}

func displayDevicesTable(out io.Writer, results session.Results) error {
	if results.Len() == 0 {
		fmt.Fprintln(out, "No devices discovered")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS")
	fmt.Fprintln(w, strings.Repeat("-", 60))
	for _, d := range results.Devices() {
		name := d.DeviceName
		if name == "" {
			name = "(unknown)"
		} else if len(name) > 30 {
			name = name[:27] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\n", name, d.DeviceID)
	}
	return w.Flush()
}

func displayDevicesJSON(out io.Writer, results session.Results) error {
	data, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode scan results: %w", err)
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}
