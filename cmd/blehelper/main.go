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
	Use:   "blehelper",
	Short: "Bluetooth Low Energy central session helper",
	Long: `Bluetooth Low Energy (BLE) central-role helper that provides:

- Scan for nearby BLE devices by name, address or advertised service
- Connect, negotiate the MTU and list discovered characteristics
- Read from and write to characteristics
- Stream characteristic notifications
- Serve the session manager to a host application over a JSON-lines channel (stdio or PTY)`,
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

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(subscribeCmd)
	rootCmd.AddCommand(serveCmd)

	addGlobalFlags(rootCmd)
}

// addGlobalFlags registers the flags every subcommand inherits.
func addGlobalFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().Bool("verbose", false, "Shorthand for --log-level=debug")
	cmd.PersistentFlags().String("config", "", "Path to a YAML config file (default: $XDG_CONFIG_HOME/blehelper/config.yaml)")
}
