package main

import (
	"strings"
	"testing"

	"github.com/srg/blehelper/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type WriteTestSuite struct {
	CommandTestSuite
}

func (s *WriteTestSuite) SetupTest() {
	s.WithPeripheral().
		WithService("1802").
		WithCharacteristic("2A06", "write,write-without-response", []byte{0})

	s.CommandTestSuite.SetupTest() // call parent last to apply configuration
}

func (s *WriteTestSuite) TestWritesHex() {
	// GOAL: Verify hex input is decoded and written with response
	//
	// TEST SCENARIO: write 2a06 "01 02" --hex → success message → fake records [1 2] with WriteDefault

	output, err := s.ExecuteCommand("write", TestDeviceAddress1, "2a06", "01 02", "--hex")
	s.Require().NoError(err, "write MUST succeed")
	s.Equal("Write successful\n", output)

	writes := s.Adapter.LastGatt().Writes()
	s.Require().Len(writes, 1)
	s.Equal([]byte{1, 2}, writes[0].Value)
	s.Equal(device.WriteDefault, writes[0].Type)
}

func (s *WriteTestSuite) TestWritesWithoutResponse() {
	_, err := s.ExecuteCommand("write", TestDeviceAddress1, "2a06", "hi", "--without-response")
	s.Require().NoError(err)

	writes := s.Adapter.LastGatt().Writes()
	s.Require().Len(writes, 1)
	s.Equal([]byte("hi"), writes[0].Value)
	s.Equal(device.WriteNoResponse, writes[0].Type)
}

func (s *WriteTestSuite) TestPayloadTooLarge() {
	_, err := s.ExecuteCommand("write", TestDeviceAddress1, "2a06", strings.Repeat("ab", device.MaxAttributeLength+1), "--hex")
	s.ErrorIs(err, device.ErrPayloadTooLarge)
	s.Nil(s.Adapter.LastGatt(), "an oversized payload MUST fail before connecting")
}

func (s *WriteTestSuite) TestInvalidHex() {
	_, err := s.ExecuteCommand("write", TestDeviceAddress1, "2a06", "zz", "--hex")
	s.ErrorContains(err, "invalid hex data")
}

func TestWriteTestSuite(t *testing.T) {
	suite.Run(t, new(WriteTestSuite))
}

func TestParseWriteData(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		hex      bool
		expected []byte
	}{
		{name: "raw string", input: "high", expected: []byte("high")},
		{name: "simple hex", input: "0102", hex: true, expected: []byte{0x01, 0x02}},
		{name: "hex with spaces", input: "01 02 03", hex: true, expected: []byte{0x01, 0x02, 0x03}},
		{name: "hex with colons", input: "01:02:03", hex: true, expected: []byte{0x01, 0x02, 0x03}},
		{name: "hex with 0x prefix", input: "0xFF", hex: true, expected: []byte{0xff}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := parseWriteData(tt.input, tt.hex)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, data)
		})
	}
}
