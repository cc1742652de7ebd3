package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"
	"github.com/srg/blehelper/internal/device"
	"github.com/srg/blehelper/internal/session"
)

// readCmd represents the read command
var readCmd = &cobra.Command{
	Use:   "read <device-address> <characteristic-uuid>",
	Short: "Read a characteristic value",
	Long: fmt.Sprintf(`Connects to a BLE device, discovers its services and reads one characteristic.

Examples:
  # Read the battery level
  blehelper read %s 2a19 --hex

  # Read a device name as text
  blehelper read %s 2a00

%s`, exampleDeviceAddress, exampleDeviceAddress, deviceAddressNote),
	Args: cobra.ExactArgs(2),
	RunE: runRead,
}

var (
	readHex     bool
	readTimeout time.Duration
)

func init() {
	readCmd.Flags().BoolVar(&readHex, "hex", false, "Print the value as hex; text when printable by default")
	readCmd.Flags().DurationVar(&readTimeout, "timeout", 5*time.Second, "Read timeout")
}

func runRead(cmd *cobra.Command, args []string) error {
	address := args[0]
	if _, err := device.ValidateUUID(args[1]); err != nil {
		return fmt.Errorf("invalid characteristic UUID: %w", err)
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

	progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("Reading %s from %s", args[1], address), "Connecting")
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

	results, stop := watch[session.CharacteristicReadResult](a, address, 8)
	defer stop()

	progress.Phase("Reading")
	if !a.manager.CharacteristicRead(address, id) {
		return fmt.Errorf("read of %s was rejected: %w", id, device.ErrNotConnected)
	}

	res, err := awaitCharacteristic(ctx, results, id, readTimeout)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", id, err)
	}
	if res.Status != device.StatusSuccess {
		return fmt.Errorf("failed to read %s: GATT status 0x%02x", id, int(res.Status))
	}

	progress.Stop()
	fmt.Fprintln(cmd.OutOrStdout(), formatValue(res.Value, readHex))
	return nil
}

// characteristicEvent is a routed event that names a characteristic.
type characteristicEvent interface {
	session.CharacteristicReadResult | session.CharacteristicWriteResult
}

// awaitCharacteristic waits for the first event about id.
func awaitCharacteristic[T characteristicEvent](ctx context.Context, events <-chan T, id string, timeout time.Duration) (T, error) {
	var zero T
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		select {
		case ev := <-events:
			if characteristicOf(ev) == id {
				return ev, nil
			}
		case <-deadline.C:
			return zero, device.ErrTimeout
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

func characteristicOf(ev any) string {
	switch e := ev.(type) {
	case session.CharacteristicReadResult:
		return e.Characteristic
	case session.CharacteristicWriteResult:
		return e.Characteristic
	default:
		return ""
	}
}

// formatValue renders value as hex, or as text when it is printable UTF-8.
func formatValue(value []byte, asHex bool) string {
	if asHex || !printable(value) {
		return hex.EncodeToString(value)
	}
	return string(value)
}

func printable(value []byte) bool {
	if len(value) == 0 || !utf8.Valid(value) {
		return false
	}
	return strings.IndexFunc(string(value), func(r rune) bool {
		return (r < 0x20 && r != '\n' && r != '\t') || r == 0x7f
	}) < 0
}
