package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeUUID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		// 16-bit UUID formats
		{name: "16-bit UUID lowercase", input: "2a19", expected: "2a19"},
		{name: "16-bit UUID uppercase", input: "2A19", expected: "2a19"},
		{name: "16-bit UUID with 0x prefix", input: "0x2902", expected: "2902"},
		{name: "16-bit UUID with 0X prefix", input: "0X2902", expected: "2902"},
		{name: "surrounding whitespace", input: "  180F ", expected: "180f"},

		// 32-bit
		{name: "32-bit UUID", input: "0000FE59", expected: "0000fe59"},

		// Bluetooth SIG base UUID collapses to 16-bit
		{name: "SIG base UUID with dashes", input: "00002902-0000-1000-8000-00805f9b34fb", expected: "2902"},
		{name: "SIG base UUID without dashes", input: "0000290200001000800000805F9B34FB", expected: "2902"},

		// vendor 128-bit
		{
			name:     "vendor UUID",
			input:    "6E400001-B5A3-F393-E0A9-E50E24DCCA9E",
			expected: "6e400001b5a3f393e0a9e50e24dcca9e",
		},

		// invalid
		{name: "empty", input: "", expected: ""},
		{name: "not hex", input: "zzzz", expected: ""},
		{name: "wrong length", input: "12345", expected: ""},
		{name: "only prefix", input: "0x", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeUUID(tt.input))
		})
	}
}

func TestNormalizeUUIDs(t *testing.T) {
	got := NormalizeUUIDs([]string{"180F", "bogus", "0x2A19"})
	assert.Equal(t, []string{"180f", "2a19"}, got)
}

func TestCanonicalUUID(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"2A37", "00002a37-0000-1000-8000-00805f9b34fb"},
		{"0x2a37", "00002a37-0000-1000-8000-00805f9b34fb"},
		{"0000FE59", "0000fe59-0000-1000-8000-00805f9b34fb"},
		{"00002a37-0000-1000-8000-00805f9b34fb", "00002a37-0000-1000-8000-00805f9b34fb"},
		{"6e400001b5a3f393e0a9e50e24dcca9e", "6e400001-b5a3-f393-e0a9-e50e24dcca9e"},
		{"nope", ""},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, CanonicalUUID(tt.input))
		})
	}
}

func TestValidateUUID(t *testing.T) {
	got, err := ValidateUUID("180F", "6E400001-B5A3-F393-E0A9-E50E24DCCA9E")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"0000180f-0000-1000-8000-00805f9b34fb",
		"6e400001-b5a3-f393-e0a9-e50e24dcca9e",
	}, got)

	_, err = ValidateUUID()
	assert.ErrorContains(t, err, "at least one UUID")

	_, err = ValidateUUID("180F", "")
	assert.ErrorContains(t, err, "index 1 cannot be empty")

	_, err = ValidateUUID("xyz")
	assert.ErrorContains(t, err, "invalid UUID format at index 0")
}

func TestShortenUUID(t *testing.T) {
	assert.Equal(t, "2a19", ShortenUUID("2a19"))
	assert.Equal(t, "6e400001", ShortenUUID("6e400001-b5a3-f393-e0a9-e50e24dcca9e"))
}
