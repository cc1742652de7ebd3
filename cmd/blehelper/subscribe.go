package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/blehelper/internal/device"
	"github.com/srg/blehelper/internal/session"
)

// subscribeCmd represents the subscribe command
var subscribeCmd = &cobra.Command{
	Use:   "subscribe <device-address> <uuid>[,uuid...]",
	Short: "Subscribe to characteristic notifications",
	Long: fmt.Sprintf(`Enables notifications (or indications) on one or more characteristics and prints
every value pushed by the device until Ctrl+C or --duration elapses.

Stream modes:
  live     - Output every notification immediately (default)
  batched  - Collect notifications, output at rate interval
  latest   - Keep only latest value per characteristic, output at rate interval

Examples:
  # Stream heart rate measurements
  blehelper subscribe %s 2a37 --hex

  # Several characteristics at once, for one minute
  blehelper subscribe %s 2a6e,2a6f,2a19 --duration 1m

  # Latest value of each characteristic once per second
  blehelper subscribe %s 2a6e,2a6f --mode latest --rate 1s

%s`, exampleDeviceAddress, exampleDeviceAddress, exampleDeviceAddress, deviceAddressNote),
	Args: cobra.ExactArgs(2),
	RunE: runSubscribe,
}

var (
	subscribeHex      bool
	subscribeDuration time.Duration
	subscribeBuffer   int
	subscribeMode     string
	subscribeRate     time.Duration
)

func init() {
	subscribeCmd.Flags().BoolVar(&subscribeHex, "hex", false, "Print values as hex; text when printable by default")
	subscribeCmd.Flags().DurationVarP(&subscribeDuration, "duration", "d", 0, "Stop after this long (0 streams until Ctrl+C)")
	subscribeCmd.Flags().IntVar(&subscribeBuffer, "buffer", 256, "Notifications buffered before dropping")
	subscribeCmd.Flags().StringVar(&subscribeMode, "mode", "live", "Stream mode: live, batched, or latest")
	subscribeCmd.Flags().DurationVar(&subscribeRate, "rate", DefaultBatchedInterval, "Output interval for batched/latest modes")
}

func runSubscribe(cmd *cobra.Command, args []string) error {
	address := args[0]
	requested := strings.Split(args[1], ",")
	if _, err := device.ValidateUUID(requested...); err != nil {
		return fmt.Errorf("invalid characteristic UUID: %w", err)
	}
	if subscribeBuffer <= 0 {
		return fmt.Errorf("invalid buffer %d: must be positive", subscribeBuffer)
	}
	mode, err := parseStreamMode(subscribeMode)
	if err != nil {
		return err
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

	progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("Subscribing on %s", address), "Connecting")
	progress.Start()
	defer progress.Stop()

	ids, err := a.connectAndDiscover(ctx, address, a.cfg.MTU, progress)
	if err != nil {
		return err
	}
	defer a.manager.Disconnect(address)

	chars := make([]string, 0, len(requested))
	for _, uuid := range requested {
		id, err := resolveCharacteristic(ids, uuid)
		if err != nil {
			return err
		}
		chars = append(chars, id)
	}

	notifications, stopNotify := watch[session.CharacteristicNotify](a, address, subscribeBuffer)
	defer stopNotify()
	states, stopStates := watch[session.StateChanged](a, address, 4)
	defer stopStates()

	progress.Phase("Subscribing")
	for _, id := range chars {
		if !a.manager.CharacteristicSetNotification(address, id, true) {
			return fmt.Errorf("could not enable notifications on %s", id)
		}
	}
	defer func() {
		for _, id := range chars {
			a.manager.CharacteristicSetNotification(address, id, false)
		}
	}()
	progress.Stop()

	if subscribeDuration > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, subscribeDuration)
		defer stop()
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "Subscribed to %d characteristic(s), press Ctrl+C to stop\n", len(chars))
	out := cmd.OutOrStdout()
	s := &streamer{
		mode: mode,
		rate: subscribeRate,
		emit: func(r *Record) { printRecord(out, r, subscribeHex) },
	}
	return s.run(ctx, notifications, states)
}
