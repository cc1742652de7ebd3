package main

import (
	"bytes"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/blehelper/internal/testutils"
	"github.com/srg/blehelper/pkg/config"
)

// Test device addresses for consistent mock device identification
const (
	TestDeviceAddress1 = "00:00:00:00:00:01"
	TestDeviceAddress2 = "00:00:00:00:00:02"
)

// CommandTestSuite runs commands against the fake adapter of MockBLEPeripheralSuite.
// Every cmd/blehelper test suite that needs a manager should embed it.
type CommandTestSuite struct {
	testutils.MockBLEPeripheralSuite
	originalNewApp func(cmd *cobra.Command) (*app, error)
	Config         *config.Config
}

func (s *CommandTestSuite) SetupTest() {
	s.MockBLEPeripheralSuite.SetupTest()
	s.Adapter.SetResponsive(true)
	resetFlags()

	s.Config = config.DefaultConfig()
	s.Config.ConnectTimeout = 5 * time.Second
	s.Config.DiscoverTimeout = 5 * time.Second
	s.Config.ScanTimeout = 5 * time.Second

	s.originalNewApp = newApp
	newApp = func(cmd *cobra.Command) (*app, error) {
		// the suite owns the manager; commands must not close it
		return &app{cfg: s.Config, logger: s.Logger, manager: s.Manager}, nil
	}
}

func (s *CommandTestSuite) TearDownTest() {
	newApp = s.originalNewApp
	s.MockBLEPeripheralSuite.TearDownTest()
}

// ExecuteCommand runs the subcommand in args under a fresh root, returns stdout and error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	return s.ExecuteCommandWithInput(strings.NewReader(""), args...)
}

// ExecuteCommandWithInput is ExecuteCommand with stdin read from in.
func (s *CommandTestSuite) ExecuteCommandWithInput(in io.Reader, args ...string) (string, error) {
	root := newTestRoot()
	stdout := new(bytes.Buffer)
	root.SetIn(in)
	root.SetOut(stdout)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), err
}

// newTestRoot returns a root command carrying the global flags and every subcommand.
func newTestRoot() *cobra.Command {
	root := &cobra.Command{Use: "blehelper", SilenceErrors: true}
	addGlobalFlags(root)
	root.AddCommand(scanCmd, connectCmd, readCmd, writeCmd, subscribeCmd, serveCmd)
	return root
}

// resetFlags restores every command flag variable to its default.
func resetFlags() {
	scanDuration, scanFormat, scanName, scanAddress, scanService = 0, "table", "", "", ""
	connectMTU = 0
	readHex, readTimeout = false, 5*time.Second
	writeHex, writeNoResponse, writeTimeout = false, false, 5*time.Second
	subscribeHex, subscribeDuration, subscribeBuffer = false, 0, 256
	subscribeMode, subscribeRate = "live", DefaultBatchedInterval
	servePTY, serveSymlink = false, ""
}
