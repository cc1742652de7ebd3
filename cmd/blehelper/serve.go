package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/srg/blehelper/internal/host"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the BLE session manager to a host application",
	Long: `Runs the session manager and exchanges JSON lines with a host application.

Each request is one line:
  {"id":1,"method":"connect","args":{"deviceId":"AA:BB:CC:DD:EE:FF","timeout":10}}

Timeouts are given in seconds. Replies carry the request id and either a result or an error:
  {"id":1,"result":true}
  {"id":2,"error":{"code":"NOT_CONNECTED","message":"not connected"}}

Unsolicited events are pushed as they happen:
  {"event":"onDeviceStateChange","args":{"deviceId":"AA:BB:CC:DD:EE:FF","state":"connected"}}

Methods: startScan, stopScan, connect, disconnect, requestMtu, discoverServices,
characteristicRead, characteristicWrite, characteristicSetNotification, refreshCache, state.

By default the channel is stdin/stdout; with --pty a pseudo-terminal is created and its path
printed on stderr.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	servePTY     bool
	serveSymlink string
)

func init() {
	serveCmd.Flags().BoolVar(&servePTY, "pty", false, "Serve on a new pseudo-terminal instead of stdin/stdout")
	serveCmd.Flags().StringVar(&serveSymlink, "symlink", "", "Create a symlink to the PTY device (requires --pty)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveSymlink != "" && !servePTY {
		return errors.New("--symlink requires --pty")
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	var in io.Reader = cmd.InOrStdin()
	var out io.Writer = cmd.OutOrStdout()
	if servePTY {
		p, err := host.OpenPTY()
		if err != nil {
			return err
		}
		defer p.Close()
		if serveSymlink != "" {
			if err := os.Symlink(p.Name(), serveSymlink); err != nil {
				return fmt.Errorf("failed to create symlink %s: %w", serveSymlink, err)
			}
			defer os.Remove(serveSymlink)
		}
		in, out = p, p
		fmt.Fprintf(cmd.ErrOrStderr(), "Serving on %s\n", p.Name())
	}

	ctx, cancel := interruptContext(context.Background(), a.logger)
	defer cancel()

	outbound := host.NewOutbound(out, 0, a.logger)
	defer outbound.Close()

	server := host.NewServer(a.manager, outbound, host.Defaults{
		ConnectTimeout:  a.cfg.ConnectTimeout,
		DiscoverTimeout: a.cfg.DiscoverTimeout,
		ScanTimeout:     a.cfg.ScanTimeout,
		EventBuffer:     a.cfg.EventBuffer,
	}, a.logger)

	a.logger.Info("Serving session manager")
	err = server.Serve(ctx, in)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
