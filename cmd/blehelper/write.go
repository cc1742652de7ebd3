package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/blehelper/internal/device"
	"github.com/srg/blehelper/internal/session"
)

// writeCmd represents the write command
var writeCmd = &cobra.Command{
	Use:   "write <device-address> <characteristic-uuid> <data>",
	Short: "Write a characteristic value",
	Long: fmt.Sprintf(`Writes data to a BLE characteristic.

Examples:
  # Write string data
  blehelper write %s 2a06 "high"

  # Write hex data
  blehelper write %s 2a06 01 --hex

  # Write without response (faster, no ACK)
  blehelper write %s 2a06 "data" --without-response

%s`, exampleDeviceAddress, exampleDeviceAddress, exampleDeviceAddress, deviceAddressNote),
	Args: cobra.ExactArgs(3),
	RunE: runWrite,
}

var (
	writeHex        bool
	writeNoResponse bool
	writeTimeout    time.Duration
)

func init() {
	writeCmd.Flags().BoolVar(&writeHex, "hex", false, "Parse input as hex string (e.g., 'FF01'); raw bytes by default")
	writeCmd.Flags().BoolVar(&writeNoResponse, "without-response", false, "Write without response (faster, no ACK)")
	writeCmd.Flags().DurationVar(&writeTimeout, "timeout", 5*time.Second, "Write timeout")
}

func runWrite(cmd *cobra.Command, args []string) error {
	address := args[0]
	if _, err := device.ValidateUUID(args[1]); err != nil {
		return fmt.Errorf("invalid characteristic UUID: %w", err)
	}

	data, err := parseWriteData(args[2], writeHex)
	if err != nil {
		return fmt.Errorf("failed to parse data: %w", err)
	}
	if len(data) > device.MaxAttributeLength {
		return fmt.Errorf("%d bytes: %w", len(data), device.ErrPayloadTooLarge)
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := interruptContext(context.Background(), a.logger)
	defer cancel()

	progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("Writing %d bytes to %s on %s", len(data), args[1], address), "Connecting")
	progress.Start()
	defer progress.Stop()

	ids, err := a.connectAndDiscover(ctx, address, a.cfg.MTU, progress)
	if err != nil {
		return err
	}
	defer a.manager.Disconnect(address)

	id, err := resolveCharacteristic(ids, args[1])
	if err != nil {
		return err
	}

	results, stop := watch[session.CharacteristicWriteResult](a, address, 8)
	defer stop()

	progress.Phase("Writing")
	if !a.manager.CharacteristicWrite(address, id, data, writeNoResponse) {
		return fmt.Errorf("write to %s was rejected: %w", id, device.ErrNotConnected)
	}

	res, err := awaitCharacteristic(ctx, results, id, writeTimeout)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", id, err)
	}
	if !res.Success {
		return fmt.Errorf("failed to write %s: GATT status 0x%02x", id, int(res.Status))
	}

	progress.Stop()
	fmt.Fprintln(cmd.OutOrStdout(), "Write successful")
	return nil
}

// parseWriteData converts input string to bytes, decoding hex when asHex is set.
func parseWriteData(dataStr string, asHex bool) ([]byte, error) {
	if !asHex {
		return []byte(dataStr), nil
	}

	// Remove spaces and common separators
	cleaned := strings.ReplaceAll(dataStr, " ", "")
	cleaned = strings.ReplaceAll(cleaned, ":", "")
	cleaned = strings.ReplaceAll(cleaned, "-", "")
	cleaned = strings.ReplaceAll(cleaned, "0x", "")

	data, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("invalid hex data: %w", err)
	}
	return data, nil
}
