package main

import (
	"testing"

	"github.com/srg/blehelper/internal/device"
	"github.com/srg/blehelper/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type ConnectTestSuite struct {
	CommandTestSuite
}

func (s *ConnectTestSuite) TestListsCharacteristics() {
	// GOAL: Verify connect prints every discovered characteristic identifier
	//
	// TEST SCENARIO: connect to the battery peripheral → success → output lists 2a19 in canonical form

	output, err := s.ExecuteCommand("connect", TestDeviceAddress1)
	s.Require().NoError(err, "connect MUST succeed")

	testutils.NewTextAsserter(s.T()).Assert(output, `Connected to 00:00:00:00:00:01
Characteristics (1):
  00002a19-0000-1000-8000-00805f9b34fb (2a19)
`)
	s.Equal(device.Disconnected, s.Manager.State(TestDeviceAddress1), "connect MUST disconnect on exit")
}

func (s *ConnectTestSuite) TestNegotiatesMTU() {
	// GOAL: Verify --mtu is requested and the negotiated size reported
	//
	// TEST SCENARIO: connect --mtu 185 → MTU request issued → header shows the MTU

	output, err := s.ExecuteCommand("connect", TestDeviceAddress1, "--mtu", "185")
	s.Require().NoError(err)

	s.Contains(output, "Connected to 00:00:00:00:00:01 (MTU 185)")
	s.Equal([]int{185}, s.Adapter.LastGatt().MTURequests())
}

func (s *ConnectTestSuite) TestConfiguredMTU() {
	s.Config.MTU = 247

	_, err := s.ExecuteCommand("connect", TestDeviceAddress1)
	s.Require().NoError(err)
	s.Equal([]int{247}, s.Adapter.LastGatt().MTURequests(), "config mtu MUST apply when --mtu is absent")
}

func (s *ConnectTestSuite) TestConnectFailure() {
	// GOAL: Verify a platform connect failure surfaces as ErrConnectFailed
	//
	// TEST SCENARIO: adapter disabled → connect → error wraps the session failure

	s.Adapter.SetEnabled(false)

	_, err := s.ExecuteCommand("connect", TestDeviceAddress1)
	s.Require().Error(err, "connect MUST fail when the adapter is disabled")
	s.ErrorIs(err, device.ErrAdapterDisabled)
}

func (s *ConnectTestSuite) TestRejectsNegativeMTU() {
	_, err := s.ExecuteCommand("connect", TestDeviceAddress1, "--mtu", "-1")
	s.ErrorContains(err, "invalid MTU -1")
}

func (s *ConnectTestSuite) TestRequiresAddress() {
	_, err := s.ExecuteCommand("connect")
	s.Error(err, "connect without an address MUST fail")
}

func TestConnectTestSuite(t *testing.T) {
	suite.Run(t, new(ConnectTestSuite))
}
