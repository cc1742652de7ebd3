package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCharacteristic struct {
	uuid  string
	props Properties
}

func (c stubCharacteristic) UUID() string                   { return c.uuid }
func (c stubCharacteristic) Properties() Properties         { return c.props }
func (c stubCharacteristic) Stage([]byte) error             { return nil }
func (c stubCharacteristic) ClientConfig() DescriptorHandle { return nil }

func TestClientConfigValue(t *testing.T) {
	tests := []struct {
		name     string
		props    Properties
		enable   bool
		expected []byte
	}{
		{name: "notify enable", props: PropNotify, enable: true, expected: EnableNotificationValue},
		{name: "notify and indicate prefers notify", props: PropNotify | PropIndicate, enable: true, expected: EnableNotificationValue},
		{name: "indicate only", props: PropIndicate, enable: true, expected: EnableIndicationValue},
		{name: "disable", props: PropIndicate, enable: false, expected: DisableNotificationValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := stubCharacteristic{uuid: "2A37", props: tt.props}
			assert.Equal(t, tt.expected, ClientConfigValue(c, tt.enable))
		})
	}

	assert.Equal(t, EnableNotificationValue, ClientConfigValue(nil, true))
}

func TestParseClientConfig(t *testing.T) {
	cfg, err := ParseClientConfig([]byte{0x03, 0x00})
	require.NoError(t, err)
	assert.True(t, cfg.Notifications)
	assert.True(t, cfg.Indications)

	cfg, err = ParseClientConfig(EnableIndicationValue)
	require.NoError(t, err)
	assert.False(t, cfg.Notifications)
	assert.True(t, cfg.Indications)

	_, err = ParseClientConfig([]byte{0x01})
	assert.ErrorContains(t, err, "expected 2, got 1")
}
