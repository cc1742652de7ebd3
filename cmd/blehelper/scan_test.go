package main

import (
	"testing"
	"time"

	"github.com/srg/blehelper/internal/device"
	"github.com/srg/blehelper/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type ScanTestSuite struct {
	CommandTestSuite
}

// scanAndAdvertise runs scan with args, delivers ads once the scan started and returns the outcome.
func (s *ScanTestSuite) scanAndAdvertise(args []string, ads ...device.ScanResult) (string, error) {
	done := make(chan commandResult, 1)
	go func() {
		output, err := s.ExecuteCommand(append([]string{"scan"}, args...)...)
		done <- commandResult{output: output, err: err}
	}()

	s.Require().Eventually(func() bool { return s.Adapter.ScanStarts() == 1 }, 2*time.Second, 5*time.Millisecond, "scan MUST start")
	for _, ad := range ads {
		s.Adapter.Advertise(ad)
	}

	select {
	case res := <-done:
		return res.output, res.err
	case <-time.After(5 * time.Second):
		s.FailNow("scan did not return")
		return "", nil
	}
}

func (s *ScanTestSuite) TestTableStopsOnNameMatch() {
	// GOAL: Verify a --name match ends the scan early and is printed as a table
	//
	// TEST SCENARIO: scan --name Thermo → matching advertisement → scan returns → table lists the device

	output, err := s.scanAndAdvertise([]string{"--name", "Thermo", "--duration", "1m"},
		testutils.NewAdvertisementBuilder().WithAddress(TestDeviceAddress1).WithName("Thermo").Build(),
	)
	s.Require().NoError(err, "scan MUST succeed")

	testutils.NewTextAsserter(s.T()).Assert(output, `NAME  ADDRESS
------------------------------------------------------------
Thermo  00:00:00:00:00:01
`)
	s.Equal("Thermo", s.Adapter.ScanFilter().Name)
}

func (s *ScanTestSuite) TestJSON() {
	output, err := s.scanAndAdvertise([]string{"--address", TestDeviceAddress2, "--format", "json"},
		testutils.NewAdvertisementBuilder().WithAddress(TestDeviceAddress2).Build(),
	)
	s.Require().NoError(err)

	testutils.NewJSONAsserter(s.T()).Assert(output, `{
		"00:00:00:00:00:02": {"deviceId": "00:00:00:00:00:02", "deviceName": ""}
	}`)
}

func (s *ScanTestSuite) TestNoDevices() {
	done := make(chan commandResult, 1)
	go func() {
		output, err := s.ExecuteCommand("scan", "--duration", "3s")
		done <- commandResult{output: output, err: err}
	}()
	s.Require().Eventually(func() bool { return s.Clock.Pending() > 0 }, 2*time.Second, 5*time.Millisecond, "scan MUST arm its timeout")
	s.Advance(3 * time.Second)

	res := <-done
	s.Require().NoError(res.err)
	s.Equal("No devices discovered\n", res.output)
}

func (s *ScanTestSuite) TestPermissionDenied() {
	s.Permissions.SetStatus(device.PermissionDenied)

	done := make(chan commandResult, 1)
	go func() {
		output, err := s.ExecuteCommand("scan")
		done <- commandResult{output: output, err: err}
	}()
	s.Require().Eventually(func() bool { return s.Permissions.Requests() == 1 }, 2*time.Second, 5*time.Millisecond)
	s.Permissions.Answer(0, false)

	res := <-done
	s.ErrorIs(res.err, device.ErrPermissionDenied)
}

func (s *ScanTestSuite) TestInvalidFormat() {
	_, err := s.ExecuteCommand("scan", "--format=invalid")
	s.Require().Error(err, "invalid format MUST return error")
	s.Contains(err.Error(), "invalid format 'invalid': must be one of [table json]")
}

func (s *ScanTestSuite) TestInvalidService() {
	_, err := s.ExecuteCommand("scan", "--service", "xyz")
	s.ErrorContains(err, "invalid service UUID")
}

func TestScanTestSuite(t *testing.T) {
	suite.Run(t, new(ScanTestSuite))
}
