package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// connectCmd represents the connect command
var connectCmd = &cobra.Command{
	Use:   "connect <device-address>",
	Short: "Connect to a device and list its characteristics",
	Long: fmt.Sprintf(`Connects to a BLE device, optionally negotiates the MTU, discovers its
services and prints every characteristic identifier the session knows about.

Example:
  blehelper connect %s
  blehelper connect %s --mtu 247

%s`, exampleDeviceAddress, exampleDeviceAddress, deviceAddressNote),
	Args: cobra.ExactArgs(1),
	RunE: runConnect,
}

var connectMTU int

func init() {
	connectCmd.Flags().IntVar(&connectMTU, "mtu", 0, "MTU to request after connecting (default: mtu from the config, 0 to skip)")
}

func runConnect(cmd *cobra.Command, args []string) error {
	address := args[0]
	if connectMTU < 0 {
		return fmt.Errorf("invalid MTU %d: must not be negative", connectMTU)
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	mtu := connectMTU
	if mtu == 0 {
		mtu = a.cfg.MTU
	}

	ctx, cancel := interruptContext(context.Background(), a.logger)
	defer cancel()

	progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("Connecting to %s", address), "Connecting")
	progress.Start()
	ids, err := a.connectAndDiscover(ctx, address, mtu, progress)
	progress.Stop()
	if err != nil {
		return err
	}
	defer a.manager.Disconnect(address)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Connected to %s", address)
	if c, ok := a.manager.Connection(address); ok && c.MTU() > 0 {
		fmt.Fprintf(out, " (MTU %d)", c.MTU())
	}
	fmt.Fprintln(out)

	if len(ids) == 0 {
		fmt.Fprintln(out, "No characteristics discovered")
		return nil
	}
	fmt.Fprintf(out, "Characteristics (%d):\n", len(ids))
	for _, id := range ids {
		if short := shortID(id); short != id {
			fmt.Fprintf(out, "  %s (%s)\n", id, short)
			continue
		}
		fmt.Fprintf(out, "  %s\n", id)
	}
	return nil
}
